package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/mafia-observer/go/clients/mafia_api_client"
	"github.com/mcdev12/mafia-observer/go/internal/narration"
	"github.com/mcdev12/mafia-observer/go/internal/observer"
	"github.com/mcdev12/mafia-observer/go/internal/prefs"
	"github.com/mcdev12/mafia-observer/go/internal/session"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

type Services struct {
	GameAPI    *mafia_api_client.MafiaApiClient
	Controller *session.Controller
	Observer   *observer.Service

	pool *pgxpool.Pool
	nc   *nats.Conn
}

func setupServices(ctx context.Context, config *Config) (*Services, error) {
	// Wire up dependency injection chain
	// Game API client → session controller → observer service
	s := &Services{}

	s.GameAPI = mafia_api_client.NewMafiaApiClient(config.GameAPI.BaseURL, config.GameAPI.ClientID)
	s.GameAPI.SetTimeout(time.Duration(config.GameAPI.TimeoutSec) * time.Second)

	if err := s.GameAPI.Health(ctx); err != nil {
		log.Warn().Err(err).Str("base_url", config.GameAPI.BaseURL).Msg("game service is not healthy yet")
	}

	sessionID, err := resolveSessionID(ctx, s.GameAPI, config.Observer.SessionID)
	if err != nil {
		return nil, err
	}

	if config.Narration.Backend == "nats" || config.NATS.PublishViews {
		s.nc, err = connectNATS(config.NATS.URL)
		if err != nil {
			s.Close()
			return nil, err
		}
	}

	kv, err := s.setupPrefsKV(ctx, config)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Controller, err = session.NewController(session.Config{
		SessionID: sessionID,
		Gateway:   s.GameAPI,
		Narration: s.setupNarration(config),
		Prefs:     prefs.NewStore(kv),
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create session controller: %w", err)
	}

	var publisher *observer.NATSPublisher
	if config.NATS.PublishViews {
		publisher = observer.NewNATSPublisher(s.nc, config.NATS.SubjectPrefix)
	}
	observerConfig := observer.DefaultConfig()
	observerConfig.CallTimeout = time.Duration(config.GameAPI.TimeoutSec) * time.Second
	s.Observer = observer.NewService(observerConfig, s.Controller, publisher)

	return s, nil
}

// resolveSessionID uses the configured id, or the most recently created game.
func resolveSessionID(ctx context.Context, client *mafia_api_client.MafiaApiClient, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	ids, err := client.ListGames(ctx)
	if err != nil {
		return "", fmt.Errorf("no session id configured and games could not be listed: %w", err)
	}
	if len(ids) == 0 {
		return "", errors.New("no session id configured and the game service has no games")
	}

	id := ids[len(ids)-1]
	log.Info().Str("session_id", id).Int("games", len(ids)).Msg("observing most recent game")
	return id, nil
}

func (s *Services) setupPrefsKV(ctx context.Context, config *Config) (prefs.KV, error) {
	switch config.Prefs.Backend {
	case "postgres":
		pool, err := setupDatabase(ctx)
		if err != nil {
			return nil, err
		}
		s.pool = pool

		kv := prefs.NewPGKV(pool, config.Prefs.Profile)
		if err := kv.Migrate(ctx); err != nil {
			return nil, err
		}
		return kv, nil

	case "file":
		log.Info().Str("path", config.Prefs.Path).Msg("using file preference store")
		return prefs.NewFileKV(config.Prefs.Path), nil

	default:
		return prefs.NewMemoryKV(), nil
	}
}

func (s *Services) setupNarration(config *Config) narration.Channel {
	var channel narration.Channel
	switch config.Narration.Backend {
	case "exec":
		channel = narration.NewExecChannel(config.Narration.Command, config.Narration.Args...)
	case "nats":
		channel = narration.NewNATSChannel(s.nc, config.Narration.Subject,
			time.Duration(config.Narration.TimeoutSec)*time.Second)
	default:
		channel = narration.NoopChannel{}
	}

	log.Info().
		Str("backend", config.Narration.Backend).
		Bool("supported", channel.IsSupported()).
		Msg("narration channel ready")
	return channel
}

func connectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("mafia-observer"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Close releases everything setupServices opened, in reverse order.
func (s *Services) Close() {
	if s.Controller != nil {
		s.Controller.Close()
	}
	if s.nc != nil {
		s.nc.Drain()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}
