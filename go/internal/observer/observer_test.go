package observer

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/mafia-observer/go/clients"
	"github.com/mcdev12/mafia-observer/go/internal/models"
	"github.com/mcdev12/mafia-observer/go/internal/prefs"
	"github.com/mcdev12/mafia-observer/go/internal/session"
)

const testSessionID = "5d0f5a8e-64a5-4bb3-8f43-1c9f2a0c7e21"

type stubGateway struct {
	mu      sync.Mutex
	round   int
	stepErr error
}

func (g *stubGateway) snapshot() *models.Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.round++
	s := &models.Snapshot{GameID: testSessionID, RoundIndex: g.round, Phase: models.PhaseDayDiscussion, Started: true}
	for i := 1; i < g.round; i++ {
		s.Events = append(s.Events, models.Event{Kind: models.EventKindPhaseChange, Message: "Day breaks."})
	}
	return s
}

func (g *stubGateway) FetchState(ctx context.Context, sessionID string) (*models.Snapshot, error) {
	return g.snapshot(), nil
}

func (g *stubGateway) RequestStep(ctx context.Context, sessionID string) (*models.Snapshot, error) {
	g.mu.Lock()
	err := g.stepErr
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return g.snapshot(), nil
}

func (g *stubGateway) SubmitAction(ctx context.Context, sessionID string, req models.ActionRequest) (*models.Snapshot, error) {
	return g.snapshot(), nil
}

func newTestController(t *testing.T, gw *stubGateway) *session.Controller {
	t.Helper()
	c, err := session.NewController(session.Config{
		SessionID: testSessionID,
		Gateway:   gw,
		Prefs:     prefs.NewStore(prefs.NewMemoryKV()),
		Clock:     clockwork.NewFakeClock(),
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func newTestServer(t *testing.T, controller SessionController) (*httptest.Server, *Service) {
	t.Helper()
	svc := NewService(DefaultConfig(), controller, nil)
	r := mux.NewRouter()
	svc.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, svc
}

func do(t *testing.T, method, url, body string) (*http.Response, session.View) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var view session.View
	json.NewDecoder(resp.Body).Decode(&view)
	return resp, view
}

func TestGetViewBeforeFirstRefresh(t *testing.T) {
	srv, _ := newTestServer(t, newTestController(t, &stubGateway{}))

	resp, view := do(t, http.MethodGet, srv.URL+"/api/session", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if view.SessionID != testSessionID || view.Snapshot != nil {
		t.Fatalf("view = %+v", view)
	}
	if view.Preferences.AutoAdvanceInterval != prefs.DefaultIntervalSec {
		t.Fatalf("interval = %d", view.Preferences.AutoAdvanceInterval)
	}
}

func TestRefreshAndStep(t *testing.T) {
	srv, _ := newTestServer(t, newTestController(t, &stubGateway{}))

	resp, view := do(t, http.MethodPost, srv.URL+"/api/session/refresh", "")
	if resp.StatusCode != http.StatusOK || view.Snapshot == nil || view.Snapshot.RoundIndex != 1 {
		t.Fatalf("refresh: status %d, view %+v", resp.StatusCode, view)
	}

	resp, view = do(t, http.MethodPost, srv.URL+"/api/session/step", "")
	if resp.StatusCode != http.StatusOK || view.Snapshot.RoundIndex != 2 {
		t.Fatalf("step: status %d, view %+v", resp.StatusCode, view)
	}
	if view.Announcement != session.AnnounceEvent {
		t.Fatalf("announcement = %q", view.Announcement)
	}

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/session/step", "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET step status = %d, want 405", resp.StatusCode)
	}
}

func TestStepErrorReturnsViewWithServiceMessage(t *testing.T) {
	gw := &stubGateway{stepErr: &clients.APIError{StatusCode: 400, Message: "Game is over"}}
	srv, _ := newTestServer(t, newTestController(t, gw))

	do(t, http.MethodPost, srv.URL+"/api/session/refresh", "")
	resp, view := do(t, http.MethodPost, srv.URL+"/api/session/step", "")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	if view.Error != "Game is over" || view.Snapshot == nil {
		t.Fatalf("view = %+v", view)
	}
}

func TestSubmitAction(t *testing.T) {
	srv, _ := newTestServer(t, newTestController(t, &stubGateway{}))
	url := srv.URL + "/api/session/action"

	resp, _ := do(t, http.MethodPost, url, `{"player_id":"p1","action_type":"sing","payload":{}}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown action status = %d, want 400", resp.StatusCode)
	}

	resp, _ = do(t, http.MethodPost, url, `{"action_type":"vote"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing player status = %d, want 400", resp.StatusCode)
	}

	resp, _ = do(t, http.MethodPost, url, `not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad body status = %d, want 400", resp.StatusCode)
	}

	resp, view := do(t, http.MethodPost, url, `{"player_id":"p1","action_type":"discussion","payload":{"statement":"I trust Bob."}}`)
	if resp.StatusCode != http.StatusOK || view.Snapshot == nil {
		t.Fatalf("status = %d, view = %+v", resp.StatusCode, view)
	}
}

func TestSetPreferences(t *testing.T) {
	srv, _ := newTestServer(t, newTestController(t, &stubGateway{}))

	resp, view := do(t, http.MethodPut, srv.URL+"/api/preferences/interval", `{"seconds":999}`)
	if resp.StatusCode != http.StatusOK || view.Preferences.AutoAdvanceInterval != prefs.MaxIntervalSec {
		t.Fatalf("interval: status %d, prefs %+v", resp.StatusCode, view.Preferences)
	}

	_, view = do(t, http.MethodPut, srv.URL+"/api/preferences/auto_advance", `{"enabled":true}`)
	if !view.Preferences.AutoAdvance {
		t.Fatalf("auto advance not enabled")
	}

	_, view = do(t, http.MethodPut, srv.URL+"/api/preferences/narration", `{"enabled":true}`)
	if !view.Preferences.NarrationEnabled {
		t.Fatalf("narration not enabled")
	}

	resp, _ = do(t, http.MethodPut, srv.URL+"/api/preferences/theme", `{"enabled":true}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown preference status = %d, want 404", resp.StatusCode)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) ObserverEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var event ObserverEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return event
}

func TestWebSocketPushesViewChanges(t *testing.T) {
	controller := newTestController(t, &stubGateway{})
	srv, svc := newTestServer(t, controller)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session?client_id=tester"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	initial := readEvent(t, conn)
	if initial.Type != EventTypeViewChanged || initial.SessionID != testSessionID {
		t.Fatalf("initial event = %+v", initial)
	}

	// Keep producing snapshots until the service has subscribed and pushed one.
	go func() {
		for ctx.Err() == nil {
			controller.Refresh(ctx)
			time.Sleep(50 * time.Millisecond)
		}
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		event := readEvent(t, conn)
		if event.Type != EventTypeViewChanged {
			continue
		}
		payload, err := ParseEventPayload(&event)
		if err != nil {
			t.Fatalf("parse payload: %v", err)
		}
		if view := payload.(session.View); view.Snapshot != nil {
			return
		}
	}
	t.Fatalf("no view with a snapshot was pushed")
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	bodies   [][]byte
}

func (p *recordingPublisher) Publish(subj string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subj)
	p.bodies = append(p.bodies, bytes.Clone(data))
	return nil
}

func TestNATSPublisherSubjects(t *testing.T) {
	rec := &recordingPublisher{}
	pub := NewNATSPublisher(rec, "")

	view := session.View{SessionID: testSessionID, Announcement: session.AnnounceEvent}
	event, err := NewViewChangedEvent(view)
	if err != nil {
		t.Fatalf("NewViewChangedEvent: %v", err)
	}
	if err := pub.Publish(event); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	announcement, err := newEvent(testSessionID, EventTypeAnnouncement, AnnouncementPayload{Message: "New event."})
	if err != nil {
		t.Fatalf("newEvent: %v", err)
	}
	if err := pub.Publish(announcement); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	want := []string{"session." + testSessionID + ".view", "session." + testSessionID + ".announcement"}
	if len(rec.subjects) != 2 || rec.subjects[0] != want[0] || rec.subjects[1] != want[1] {
		t.Fatalf("subjects = %v, want %v", rec.subjects, want)
	}

	var decoded ObserverEvent
	if err := json.Unmarshal(rec.bodies[1], &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	payload, err := ParseEventPayload(&decoded)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if payload.(AnnouncementPayload).Message != "New event." {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestServiceFansOutToPublisher(t *testing.T) {
	controller := newTestController(t, &stubGateway{})
	rec := &recordingPublisher{}
	svc := NewService(DefaultConfig(), controller, NewNATSPublisher(rec, "obs"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()

	// Wait for the service to subscribe before changing state.
	deadline := time.Now().Add(3 * time.Second)
	for {
		controller.SetAutoAdvanceInterval(7)
		time.Sleep(10 * time.Millisecond)
		rec.mu.Lock()
		n := len(rec.subjects)
		rec.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("nothing published")
		}
	}

	rec.mu.Lock()
	subject := rec.subjects[0]
	rec.mu.Unlock()
	if subject != "obs."+testSessionID+".view" {
		t.Fatalf("subject = %q", subject)
	}

	// Closing the controller stops the service.
	controller.Close()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("service did not stop after controller close")
	}
}

func (p *recordingPublisher) count(suffix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, subj := range p.subjects {
		if strings.HasSuffix(subj, suffix) {
			n++
		}
	}
	return n
}

func TestServicePublishesEveryAnnouncement(t *testing.T) {
	controller := newTestController(t, &stubGateway{})
	rec := &recordingPublisher{}
	svc := NewService(DefaultConfig(), controller, NewNATSPublisher(rec, ""))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for rec.count(".view") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("service never subscribed")
		}
		controller.SetAutoAdvanceInterval(7)
		time.Sleep(10 * time.Millisecond)
	}

	// The first snapshot seeds the cursor; the next two each add an event
	// and raise the same notice text twice.
	for i := 0; i < 3; i++ {
		if err := controller.Refresh(ctx); err != nil {
			t.Fatalf("Refresh: %v", err)
		}
	}

	deadline = time.Now().Add(3 * time.Second)
	for rec.count(".announcement") < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("announcements published = %d, want 2", rec.count(".announcement"))
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if n := rec.count(".announcement"); n != 2 {
		t.Fatalf("announcements published = %d, want 2", n)
	}
}

// ctxRecorder records the state of the context each controller call receives.
type ctxRecorder struct {
	SessionController

	mu        sync.Mutex
	calls     []string
	errs      []error
	deadlines []bool
}

func (c *ctxRecorder) record(name string, ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, hasDeadline := ctx.Deadline()
	c.calls = append(c.calls, name)
	c.errs = append(c.errs, ctx.Err())
	c.deadlines = append(c.deadlines, hasDeadline)
	return nil
}

func (c *ctxRecorder) View() session.View { return session.View{SessionID: testSessionID} }

func (c *ctxRecorder) Refresh(ctx context.Context) error { return c.record("refresh", ctx) }

func (c *ctxRecorder) AdvanceStep(ctx context.Context) error { return c.record("step", ctx) }

func (c *ctxRecorder) SubmitHumanAction(ctx context.Context, actorID, actionType string, payload map[string]any) error {
	return c.record("action", ctx)
}

func TestIntentsOutliveTheRequest(t *testing.T) {
	rec := &ctxRecorder{}
	h := NewStateHandler(rec, 5*time.Second)

	// A client that already hung up.
	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()

	requests := []struct {
		handler http.HandlerFunc
		body    string
	}{
		{h.HandleRefresh, ""},
		{h.HandleStep, ""},
		{h.HandleAction, `{"player_id":"human-1","action_type":"vote","payload":{"target_id":"p2"}}`},
	}
	for _, r := range requests {
		req := httptest.NewRequest(http.MethodPost, "/api/session/x", strings.NewReader(r.body)).WithContext(reqCtx)
		w := httptest.NewRecorder()
		r.handler(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.calls) != 3 {
		t.Fatalf("calls = %v", rec.calls)
	}
	for i, name := range rec.calls {
		if rec.errs[i] != nil {
			t.Errorf("%s: controller saw a cancelled context: %v", name, rec.errs[i])
		}
		if !rec.deadlines[i] {
			t.Errorf("%s: call should carry the call timeout", name)
		}
	}
}
