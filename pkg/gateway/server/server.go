// Package server wires the webhook flow, the media-stream bridge, and the
// session registry behind one http.Handler.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tamiikomi12/hvac-ai-backend/pkg/gateway/bridge"
	"github.com/tamiikomi12/hvac-ai-backend/pkg/gateway/config"
	"github.com/tamiikomi12/hvac-ai-backend/pkg/gateway/intake"
	"github.com/tamiikomi12/hvac-ai-backend/pkg/gateway/mw"
	"github.com/tamiikomi12/hvac-ai-backend/pkg/gateway/sessions"
	"github.com/tamiikomi12/hvac-ai-backend/pkg/gateway/twiml"
	"github.com/tamiikomi12/hvac-ai-backend/pkg/realtime"
)

const (
	connectingLine = "Hi, this is AVA with your HVAC service team. One moment while I connect you."
	apologyLine    = "I'm sorry, something went wrong on our end. Please call back in a few minutes."
	noInputLine    = "Sorry, I didn't hear anything."
	goodbyeLine    = "Goodbye! Have a great day."

	saveTimeout = 10 * time.Second
)

// backendInstructions is the persona handed to the AI backend in realtime
// mode. The turn-based flow keeps its prompts in the intake package; this
// is the free-conversation equivalent.
const backendInstructions = "You are AVA, the phone intake assistant for an HVAC service company. " +
	"Greet the caller, find out whether they need a service visit or have a general question, " +
	"and collect their full name, the service address, and a description of the problem. " +
	"Read the details back and get a confirmation before recording anything. " +
	"Once every required detail is confirmed, call the record_intake function exactly once. " +
	"Keep responses short and conversational."

// Options carries the server's collaborators. DialBackend overrides how
// realtime sessions are opened, for tests; nil selects the real backend.
type Options struct {
	Registry    *sessions.Registry
	Saver       bridge.Saver
	DialBackend bridge.DialBackend
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	registry *sessions.Registry
	saver    bridge.Saver
	bridge   *bridge.Bridge
	upgrader websocket.Upgrader

	// drainCtx is cancelled by Drain to end every active media bridge.
	drainCtx context.Context
	drainAll context.CancelFunc

	saves sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	drainCtx, drainAll := context.WithCancel(context.Background())

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		registry: opts.Registry,
		saver:    opts.Saver,
		upgrader: websocket.Upgrader{
			// The telephony provider is not a browser; there is no
			// origin to check.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		drainCtx: drainCtx,
		drainAll: drainAll,
	}

	dial := opts.DialBackend
	if dial == nil {
		dial = s.dialRealtime
	}
	s.bridge = &bridge.Bridge{
		Registry:        opts.Registry,
		Dial:            dial,
		Saver:           opts.Saver,
		Logger:          logger,
		MaxMessageBytes: cfg.StreamMaxMessageBytes,
		WriteTimeout:    cfg.StreamWriteTimeout,
		SaveTimeout:     saveTimeout,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /voice", s.handleVoice)
	s.mux.HandleFunc("POST /process-speech", s.handleProcessSpeech)
	s.mux.HandleFunc("GET /media", s.handleMedia)
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Drain ends every active call and waits for in-flight persistence
// writes, bounded by ctx. Call after the http server stops accepting.
func (s *Server) Drain(ctx context.Context) error {
	s.drainAll()
	s.registry.CloseAll()

	done := make(chan struct{})
	go func() {
		s.bridge.WaitSaves()
		s.saves.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	io.WriteString(w, "ok")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, `{"ok":true}`)
}

// handleVoice answers the inbound-call webhook. Realtime mode hands the
// call straight to the media stream; the bridge registers the session when
// the stream's start event arrives. Turns mode registers the session here
// and opens the first speech gather.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	callSid := strings.TrimSpace(r.PostFormValue("CallSid"))
	caller := strings.TrimSpace(r.PostFormValue("From"))
	if callSid == "" {
		s.writeTwiML(w, http.StatusBadRequest, twiml.SpeakSentence(apologyLine, true))
		return
	}

	if s.cfg.Mode == config.ModeRealtime {
		s.writeTwiML(w, http.StatusOK, twiml.ConnectStream(connectingLine, s.cfg.MediaStreamURL(), caller))
		return
	}

	sess, err := s.registry.Create(callSid, caller)
	if errors.Is(err, sessions.ErrAlreadyExists) {
		// Webhook retry for a live call; keep the existing session.
		sess, err = s.registry.Get(callSid)
	}
	if err != nil {
		s.logger.Error("register call session", "call_sid", callSid, "error", err)
		s.writeTwiML(w, http.StatusOK, twiml.SpeakSentence(apologyLine, true))
		return
	}

	step := intake.Next(intake.StateGreeting, "", sess.Data)
	sess.State, sess.Data = step.State, step.Data
	sess.Touch()

	s.logger.Info("call started", "call_sid", callSid, "caller", caller, "mode", string(s.cfg.Mode))
	s.writeTwiML(w, http.StatusOK, s.gather(step.Prompt))
}

// handleProcessSpeech advances the turn-based flow by one caller
// utterance.
func (s *Server) handleProcessSpeech(w http.ResponseWriter, r *http.Request) {
	callSid := strings.TrimSpace(r.PostFormValue("CallSid"))
	if callSid == "" {
		s.writeTwiML(w, http.StatusBadRequest, twiml.SpeakSentence(apologyLine, true))
		return
	}
	speech := strings.TrimSpace(r.PostFormValue("SpeechResult"))

	sess, err := s.registry.Get(callSid)
	if err != nil {
		// Reaped or never registered; nothing to resume.
		s.writeTwiML(w, http.StatusOK, twiml.SpeakSentence(apologyLine, true))
		return
	}
	sess.Touch()

	if intake.IsGoodbye(speech) {
		s.registry.Remove(callSid)
		s.saveLeadOnGoodbye(sess)
		s.writeTwiML(w, http.StatusOK, twiml.SpeakSentence(goodbyeLine, true))
		return
	}

	step := intake.Next(sess.State, speech, sess.Data)
	sess.State, sess.Data = step.State, step.Data

	if step.Save && sess.MarkSaved() {
		s.saveAsync(step.Data, sess.CallerNumber)
	}

	if step.Hangup {
		s.registry.Remove(callSid)
		s.writeTwiML(w, http.StatusOK, twiml.SpeakSentence(step.Prompt, true))
		return
	}
	s.writeTwiML(w, http.StatusOK, s.gather(step.Prompt))
}

// handleMedia upgrades to the bidirectional audio stream and runs the call
// bridge until the call or a drain ends it.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("media stream upgrade", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.drainCtx, cancel)
	defer stop()

	s.bridge.Handle(ctx, conn)
}

func (s *Server) dialRealtime(ctx context.Context) (bridge.Backend, error) {
	return realtime.Dial(ctx, realtime.Config{
		APIKey:          s.cfg.OpenAIAPIKey,
		BaseURL:         s.cfg.RealtimeBaseURL,
		Model:           s.cfg.RealtimeModel,
		Voice:           s.cfg.RealtimeVoice,
		TurnSilence:     s.cfg.TurnSilence,
		Instructions:    backendInstructions,
		ToolName:        intake.FunctionName,
		ToolDescription: "Record the confirmed intake details for this call.",
		ToolSchema:      intake.FunctionSchema(),
	})
}

// saveLeadOnGoodbye persists whatever a non-service call collected before
// the caller hung up. Service calls only persist through the confirmation
// step, so an unconfirmed work order is dropped here.
func (s *Server) saveLeadOnGoodbye(sess *sessions.Session) {
	if sess.Data.CallType == "" || sess.Data.IsServiceCall() {
		return
	}
	if !sess.MarkSaved() {
		return
	}
	s.saveAsync(sess.Data, sess.CallerNumber)
}

// saveAsync writes the record off the webhook path. A store failure is
// logged and never spoken into the call.
func (s *Server) saveAsync(rec intake.Record, callerNumber string) {
	s.saves.Add(1)
	go func() {
		defer s.saves.Done()
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()

		res, err := s.saver.Save(ctx, rec, callerNumber)
		if err != nil {
			s.logger.Error("persist intake record", "caller", callerNumber, "error", err)
			return
		}
		s.logger.Info("intake record saved",
			"customer_id", res.CustomerID,
			"customer_created", res.CustomerCreated,
			"work_order_id", res.WorkOrderID,
			"lead_id", res.LeadID,
		)
	}()
}

// gather wraps a prompt in a speech Gather posting back to
// /process-speech, looping on silence via Redirect.
func (s *Server) gather(prompt string) twiml.Response {
	resp := twiml.GatherSpeech(prompt, "/process-speech", noInputLine)
	resp.Verbs = append(resp.Verbs, twiml.Redirect{Method: "POST", URL: "/process-speech"})
	return resp
}

func (s *Server) writeTwiML(w http.ResponseWriter, status int, resp twiml.Response) {
	doc, err := twiml.Render(resp)
	if err != nil {
		s.logger.Error("render call-control document", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, doc)
}
