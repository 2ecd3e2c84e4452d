//go:build integration

package prefs

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestPGKVAgainstPostgres(t *testing.T) {
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("observer"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	kiosk := NewPGKV(pool, "kiosk-1")
	if err := kiosk.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := kiosk.Get(ctx, KeyAutoAdvance); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	store := NewStore(kiosk)
	store.SaveAutoAdvance(ctx, true)
	store.SaveAutoAdvanceInterval(ctx, 20)
	store.SaveAutoAdvanceInterval(ctx, 25)
	store.Flush()

	got := store.Load(ctx)
	if !got.AutoAdvance || got.AutoAdvanceInterval != 25 || got.NarrationEnabled {
		t.Fatalf("prefs = %+v", got)
	}

	// Profiles are isolated.
	other := NewStore(NewPGKV(pool, "kiosk-2")).Load(ctx)
	if other != Defaults() {
		t.Fatalf("other profile = %+v, want defaults", other)
	}
}
