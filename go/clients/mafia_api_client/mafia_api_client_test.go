package mafia_api_client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mcdev12/mafia-observer/go/clients"
	"github.com/mcdev12/mafia-observer/go/internal/models"
)

const testGameID = "0b5c5a3e-3a8e-4a51-9f55-0d1f5b7d2e11"

func newTestClient(t *testing.T, handler http.HandlerFunc) *MafiaApiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewMafiaApiClient(srv.URL, "test-client")
}

func TestFetchState(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/games/"+testGameID {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get(ClientIDHeader) != "test-client" {
			t.Errorf("client id header missing")
		}
		w.Write([]byte(`{"game_id":"` + testGameID + `","round_index":1,"phase":"night","discussion":[],"events":[]}`))
	})

	snap, err := client.FetchState(context.Background(), testGameID)
	if err != nil {
		t.Fatalf("fetch state error: %v", err)
	}
	if snap.GameID != testGameID || snap.Phase != models.PhaseNight {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestRequestStepSurfacesServiceDetail(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/games/"+testGameID+"/step" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"Game not found"}`))
	})

	_, err := client.RequestStep(context.Background(), testGameID)
	if err == nil {
		t.Fatalf("expected error")
	}

	var apiErr *clients.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %T, want *clients.APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "Game not found" {
		t.Fatalf("api error = %+v", apiErr)
	}
}

func TestSubmitActionSendsNormalizedBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/games/"+testGameID+"/action" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body models.ActionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.ActionType != models.ActionTypeDiscussion || body.Payload["statement"] != "hello" {
			t.Errorf("unexpected body %+v", body)
		}
		w.Write([]byte(`{"game_id":"` + testGameID + `","discussion":[{"player_id":"p1","player_name":"Alice","statement":"hello","round_index":1}],"events":[]}`))
	})

	snap, err := client.SubmitAction(context.Background(), testGameID, models.ActionRequest{
		PlayerID:   "p1",
		ActionType: models.ActionTypeDiscussion,
		Payload:    map[string]any{"statement": "  hello  "},
	})
	if err != nil {
		t.Fatalf("submit action error: %v", err)
	}
	if len(snap.Discussion) != 1 {
		t.Fatalf("discussion length = %d, want 1", len(snap.Discussion))
	}
}

func TestSubmitActionRejectsUnknownType(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected")
	})

	_, err := client.SubmitAction(context.Background(), testGameID, models.ActionRequest{ActionType: "kill"})
	if !errors.Is(err, models.ErrInvalidActionType) {
		t.Fatalf("err = %v, want ErrInvalidActionType", err)
	}
}

func TestInvalidSessionIDNeverHitsTheNetwork(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected")
	})

	if _, err := client.FetchState(context.Background(), "../health"); err == nil {
		t.Fatalf("expected invalid session id error")
	}
}

func TestValidationDetailList(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":[{"msg":"field required"},{"msg":"bad pattern"}]}`))
	})

	_, err := client.RequestStep(context.Background(), testGameID)
	var apiErr *clients.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *clients.APIError", err)
	}
	if apiErr.Message != "field required; bad pattern" {
		t.Fatalf("message = %q", apiErr.Message)
	}
}

func TestListGamesAndHealth(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/games":
			w.Write([]byte(`["a","b"]`))
		case "/health":
			w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	})

	ids, err := client.ListGames(context.Background())
	if err != nil {
		t.Fatalf("list games error: %v", err)
	}
	if len(ids) != 2 || ids[1] != "b" {
		t.Fatalf("ids = %v", ids)
	}
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("health error: %v", err)
	}
}
