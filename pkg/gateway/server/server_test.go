package server

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tamiikomi12/hvac-ai-backend/pkg/gateway/bridge"
	"github.com/tamiikomi12/hvac-ai-backend/pkg/gateway/config"
	"github.com/tamiikomi12/hvac-ai-backend/pkg/gateway/intake"
	"github.com/tamiikomi12/hvac-ai-backend/pkg/gateway/sessions"
	"github.com/tamiikomi12/hvac-ai-backend/pkg/realtime"
	"github.com/tamiikomi12/hvac-ai-backend/pkg/store"
)

func testConfig(mode config.Mode) config.Config {
	return config.Config{
		Addr:                  ":0",
		PublicBaseURL:         "https://voice.example.com",
		Mode:                  mode,
		TurnSilence:           700 * time.Millisecond,
		IdleSweepInterval:     5 * time.Minute,
		IdleTimeout:           15 * time.Minute,
		StreamMaxMessageBytes: 64 * 1024,
		StreamWriteTimeout:    5 * time.Second,
	}
}

func newTestServer(t *testing.T, mode config.Mode, dial bridge.DialBackend) (*Server, *sessions.Registry, *store.Memory) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	registry := sessions.NewRegistry()
	mem := store.NewMemory()
	s := New(testConfig(mode), logger, Options{
		Registry:    registry,
		Saver:       &store.Gateway{Store: mem, Logger: logger},
		DialBackend: dial,
	})
	return s, registry, mem
}

func postForm(t *testing.T, h http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func drain(t *testing.T, s *Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

func TestRootAndHealth(t *testing.T) {
	s, _, _ := newTestServer(t, config.ModeTurns, nil)
	h := s.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("GET / status=%d body=%q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"ok":true`) {
		t.Fatalf("GET /health status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestVoice_TurnsMode_OpensGather(t *testing.T) {
	s, registry, _ := newTestServer(t, config.ModeTurns, nil)

	rr := postForm(t, s.Handler(), "/voice", url.Values{
		"CallSid": {"CA100"},
		"From":    {"+15550001"},
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	if !strings.Contains(body, `<Gather input="speech"`) || !strings.Contains(body, `action="/process-speech"`) {
		t.Fatalf("no speech gather in response: %s", body)
	}
	if !strings.Contains(body, "schedule a service visit") {
		t.Fatalf("greeting prompt missing: %s", body)
	}

	sess, err := registry.Get("CA100")
	if err != nil {
		t.Fatalf("session not registered: %v", err)
	}
	if sess.State != intake.StateDetermineType {
		t.Fatalf("state=%s, want %s", sess.State, intake.StateDetermineType)
	}
	if sess.CallerNumber != "+15550001" {
		t.Fatalf("caller=%q", sess.CallerNumber)
	}
}

func TestVoice_RealtimeMode_ConnectsStream(t *testing.T) {
	s, registry, _ := newTestServer(t, config.ModeRealtime, nil)

	rr := postForm(t, s.Handler(), "/voice", url.Values{
		"CallSid": {"CA200"},
		"From":    {"+15550002"},
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	for _, want := range []string{
		"<Connect>",
		`url="wss://voice.example.com/media"`,
		`name="callerNumber"`,
		`value="+15550002"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("response missing %q: %s", want, body)
		}
	}
	// The stream's start event registers the session, not the webhook.
	if got := registry.Count(); got != 0 {
		t.Fatalf("sessions=%d, want 0", got)
	}
}

func TestVoice_MissingCallSid_ApologizesAndHangsUp(t *testing.T) {
	s, _, _ := newTestServer(t, config.ModeTurns, nil)

	rr := postForm(t, s.Handler(), "/voice", url.Values{"From": {"+15550003"}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "<Hangup>") {
		t.Fatalf("no hangup in response: %s", rr.Body.String())
	}
}

func TestProcessSpeech_MissingCallSid(t *testing.T) {
	s, _, _ := newTestServer(t, config.ModeTurns, nil)

	rr := postForm(t, s.Handler(), "/process-speech", url.Values{"SpeechResult": {"hello"}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "<Hangup>") {
		t.Fatalf("no hangup in response: %s", rr.Body.String())
	}
}

func TestProcessSpeech_UnknownCall(t *testing.T) {
	s, _, _ := newTestServer(t, config.ModeTurns, nil)

	rr := postForm(t, s.Handler(), "/process-speech", url.Values{
		"CallSid":      {"CA-gone"},
		"SpeechResult": {"hello"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "<Hangup>") {
		t.Fatalf("no hangup in response: %s", rr.Body.String())
	}
}

func TestProcessSpeech_FullServiceFlow(t *testing.T) {
	s, registry, mem := newTestServer(t, config.ModeTurns, nil)
	h := s.Handler()

	postForm(t, h, "/voice", url.Values{"CallSid": {"CA300"}, "From": {"+15559876"}})

	speak := func(utterance string) string {
		rr := postForm(t, h, "/process-speech", url.Values{
			"CallSid":      {"CA300"},
			"SpeechResult": {utterance},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("speak %q status=%d body=%q", utterance, rr.Code, rr.Body.String())
		}
		return rr.Body.String()
	}

	if body := speak("I need to schedule a repair"); !strings.Contains(body, "full name") {
		t.Fatalf("expected name prompt: %s", body)
	}
	if body := speak("John Smith"); !strings.Contains(body, "service address") {
		t.Fatalf("expected address prompt: %s", body)
	}
	if body := speak("123 Main Street"); !strings.Contains(body, "going on with your system") {
		t.Fatalf("expected issue prompt: %s", body)
	}
	if body := speak("There is no heat coming from my furnace"); !strings.Contains(body, "123 Main Street") {
		t.Fatalf("expected confirmation to read the address back: %s", body)
	}

	// Confirmation turn triggers the save; the call is not yet over.
	if body := speak("no that is everything"); strings.Contains(body, "<Hangup>") {
		t.Fatalf("call ended one turn early: %s", body)
	}

	// Next turn from COMPLETE hangs up and removes the session.
	if body := speak("okay"); !strings.Contains(body, "<Hangup>") {
		t.Fatalf("expected hangup: %s", body)
	}
	if _, err := registry.Get("CA300"); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("session still registered: %v", err)
	}

	drain(t, s)

	customers, workOrders, leads := mem.Snapshot()
	if len(customers) != 1 || len(workOrders) != 1 || len(leads) != 0 {
		t.Fatalf("rows: customers=%d workOrders=%d leads=%d", len(customers), len(workOrders), len(leads))
	}
	if customers[0].Phone != "+15559876" {
		t.Fatalf("customer phone=%q", customers[0].Phone)
	}
	wo := workOrders[0]
	if wo.Priority != string(intake.PriorityEmergency) {
		t.Fatalf("priority=%q, want Emergency", wo.Priority)
	}
	if !strings.Contains(wo.IssueDescription, "no heat") {
		t.Fatalf("issue=%q", wo.IssueDescription)
	}
}

func TestProcessSpeech_GoodbyeSavesLead(t *testing.T) {
	s, registry, mem := newTestServer(t, config.ModeTurns, nil)
	h := s.Handler()

	postForm(t, h, "/voice", url.Values{"CallSid": {"CA400"}, "From": {"+15550123"}})
	postForm(t, h, "/process-speech", url.Values{
		"CallSid":      {"CA400"},
		"SpeechResult": {"I have a question about pricing"},
	})
	postForm(t, h, "/process-speech", url.Values{
		"CallSid":      {"CA400"},
		"SpeechResult": {"how much is a seasonal tune up"},
	})

	rr := postForm(t, h, "/process-speech", url.Values{
		"CallSid":      {"CA400"},
		"SpeechResult": {"goodbye"},
	})
	if !strings.Contains(rr.Body.String(), "<Hangup>") {
		t.Fatalf("no hangup on goodbye: %s", rr.Body.String())
	}
	if _, err := registry.Get("CA400"); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("session still registered: %v", err)
	}

	drain(t, s)

	customers, workOrders, leads := mem.Snapshot()
	if len(leads) != 1 {
		t.Fatalf("leads=%d, want 1", len(leads))
	}
	if len(customers) != 0 || len(workOrders) != 0 {
		t.Fatalf("unexpected service rows: customers=%d workOrders=%d", len(customers), len(workOrders))
	}
	if leads[0].Phone != "+15550123" {
		t.Fatalf("lead phone=%q", leads[0].Phone)
	}
	if !strings.Contains(leads[0].Notes, "tune up") {
		t.Fatalf("lead notes=%q", leads[0].Notes)
	}
}

type fakeBackend struct {
	mu        sync.Mutex
	audio     [][]byte
	events    chan realtime.Event
	closeOnce sync.Once
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{events: make(chan realtime.Event, 16)}
}

func (f *fakeBackend) SendAudio(audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, append([]byte(nil), audio...))
	return nil
}

func (f *fakeBackend) CompleteFunctionCall(string, any) error { return nil }

func (f *fakeBackend) Events() <-chan realtime.Event { return f.events }

func (f *fakeBackend) Close() error {
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeBackend) audioFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.audio...)
}

func TestMedia_BridgesCallToBackend(t *testing.T) {
	backend := newFakeBackend()
	dial := func(context.Context) (bridge.Backend, error) { return backend, nil }
	s, registry, _ := newTestServer(t, config.ModeRealtime, dial)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/media"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial media stream: %v", err)
	}
	defer conn.Close()

	start := `{"event":"start","streamSid":"MZ1","start":{"streamSid":"MZ1","callSid":"CA500","tracks":["inbound"],"customParameters":{"callerNumber":"+15550500"}}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(start)); err != nil {
		t.Fatalf("write start: %v", err)
	}

	payload := base64.StdEncoding.EncodeToString([]byte("ulaw-bytes"))
	media := `{"event":"media","streamSid":"MZ1","media":{"track":"inbound","payload":"` + payload + `"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(media)); err != nil {
		t.Fatalf("write media: %v", err)
	}

	waitFor(t, "audio forwarded to backend", func() bool {
		frames := backend.audioFrames()
		return len(frames) == 1 && string(frames[0]) == "ulaw-bytes"
	})

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"stop","streamSid":"MZ1"}`)); err != nil {
		t.Fatalf("write stop: %v", err)
	}

	waitFor(t, "session removed after stop", func() bool {
		return registry.Count() == 0
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
