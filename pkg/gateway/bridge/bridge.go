// Package bridge relays audio between one telephony media stream and one
// AI-backend realtime session, and turns the backend's structured intake
// function call into exactly one persistence attempt.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/tamiikomi12/hvac-ai-backend/pkg/gateway/intake"
	"github.com/tamiikomi12/hvac-ai-backend/pkg/gateway/sessions"
	"github.com/tamiikomi12/hvac-ai-backend/pkg/gateway/telephony"
	"github.com/tamiikomi12/hvac-ai-backend/pkg/realtime"
	"github.com/tamiikomi12/hvac-ai-backend/pkg/store"
)

var (
	errCallEnded     = errors.New("call ended")
	errBackendClosed = errors.New("backend session closed")
)

// StreamConn is the telephony side of the relay. *websocket.Conn satisfies
// it; tests substitute their own.
type StreamConn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Backend is the AI side of the relay, owned exclusively by the call.
type Backend interface {
	SendAudio(audio []byte) error
	CompleteFunctionCall(callID string, output any) error
	Events() <-chan realtime.Event
	Close() error
}

// DialBackend opens the AI-backend session for one call. A dial failure is
// fatal to the call and is never retried mid-call.
type DialBackend func(ctx context.Context) (Backend, error)

// Saver persists one completed intake record.
type Saver interface {
	Save(ctx context.Context, rec intake.Record, callerNumber string) (store.SaveResult, error)
}

type Bridge struct {
	Registry *sessions.Registry
	Dial     DialBackend
	Saver    Saver
	Logger   *slog.Logger

	MaxMessageBytes int64
	WriteTimeout    time.Duration

	// SaveTimeout bounds the persistence write, which runs off the audio
	// hot path and may outlive the call itself.
	SaveTimeout time.Duration

	saves sync.WaitGroup
}

// Handle runs one call to completion: wait for the stream's start event,
// register the session, dial the backend, then relay until either side
// ends. Teardown removes the session and closes the peer exactly once, in
// the same handling step.
func (b *Bridge) Handle(ctx context.Context, conn StreamConn) {
	defer conn.Close()

	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if b.MaxMessageBytes > 0 {
		conn.SetReadLimit(b.MaxMessageBytes)
	}

	start, ok := b.awaitStart(conn, logger)
	if !ok {
		return
	}
	logger = logger.With("call_sid", start.CallSid)

	session, err := b.Registry.Create(start.CallSid, start.CallerNumber)
	if err != nil {
		logger.Error("session create failed", "error", err)
		return
	}
	defer func() {
		if removed, err := b.Registry.Remove(session.ID); err == nil {
			removed.ClosePeer()
		} else {
			// Already removed (reaper or stop handling); the peer handle
			// still guarantees a single close.
			session.ClosePeer()
		}
		logger.Info("call torn down")
	}()

	backend, err := b.Dial(ctx)
	if err != nil {
		// Fatal to the call: close the stream and let the provider hang up.
		logger.Error("backend dial failed", "error", err)
		return
	}
	session.BindPeer(backend)
	logger.Info("call bridged", "stream_sid", start.StreamSid, "caller", start.CallerNumber)

	relayCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, relayCtx := errgroup.WithContext(relayCtx)
	// Either loop ending cancels relayCtx; closing the stream unblocks a
	// telephone-side read in flight.
	go func() {
		<-relayCtx.Done()
		_ = conn.Close()
	}()
	group.Go(func() error {
		return b.pumpTelephone(relayCtx, conn, session, backend, logger)
	})
	group.Go(func() error {
		return b.pumpBackend(relayCtx, conn, session, backend, start.StreamSid, logger)
	})

	err = group.Wait()
	switch {
	case err == nil || errors.Is(err, errCallEnded) || errors.Is(err, errBackendClosed) || errors.Is(err, context.Canceled):
		logger.Info("relay finished", "reason", reasonOf(err))
	default:
		logger.Warn("relay finished with error", "error", err)
	}
}

// WaitSaves blocks until in-flight persistence writes finish. Used on
// shutdown so a teardown does not abandon a pending store write.
func (b *Bridge) WaitSaves() {
	b.saves.Wait()
}

// awaitStart consumes frames until the start event arrives. Malformed
// frames are dropped and logged; a closed connection gives up.
func (b *Bridge) awaitStart(conn StreamConn, logger *slog.Logger) (telephony.Message, bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return telephony.Message{}, false
		}
		msg, err := telephony.Decode(data)
		if err != nil {
			logger.Warn("dropping malformed stream frame", "error", err)
			continue
		}
		switch msg.Event {
		case telephony.EventStart:
			return msg, true
		case telephony.EventStop:
			return telephony.Message{}, false
		default:
			// connected handshake and anything else before start.
		}
	}
}

// pumpTelephone forwards caller audio to the backend in receipt order.
func (b *Bridge) pumpTelephone(ctx context.Context, conn StreamConn, session *sessions.Session, backend Backend, logger *slog.Logger) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errCallEnded
		}

		msg, err := telephony.Decode(data)
		if err != nil {
			logger.Warn("dropping malformed stream frame", "error", err)
			continue
		}

		switch msg.Event {
		case telephony.EventMedia:
			session.Touch()
			if err := backend.SendAudio(msg.Payload); err != nil {
				return err
			}
		case telephony.EventStop:
			return errCallEnded
		case telephony.EventMark:
			session.Touch()
		default:
		}
	}
}

// pumpBackend forwards backend audio to the caller in emission order and
// handles transcript and function-call events.
func (b *Bridge) pumpBackend(ctx context.Context, conn StreamConn, session *sessions.Session, backend Backend, streamSid string, logger *slog.Logger) error {
	writeTimeout := b.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-backend.Events():
			if !ok {
				return errBackendClosed
			}
			switch ev.Kind {
			case realtime.EventAudioDelta:
				frame, err := telephony.EncodeMedia(streamSid, ev.Audio)
				if err != nil {
					return err
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return errCallEnded
				}

			case realtime.EventTranscriptDone:
				logger.Info("transcript", "speaker", ev.Speaker, "text", ev.Transcript)
				if ev.Speaker == "caller" && intake.IsGoodbye(ev.Transcript) {
					return errCallEnded
				}

			case realtime.EventFunctionCall:
				b.handleFunctionCall(session, backend, ev, logger)

			case realtime.EventError:
				// A single backend error event does not end the call.
				logger.Warn("backend error event", "code", ev.Code, "message", ev.Message)

			case realtime.EventClosed:
				return errBackendClosed
			}
		}
	}
}

// handleFunctionCall validates the backend's structured intake payload and
// triggers at most one persistence attempt for the session. The store
// write runs off the relay hot path; its failure never reaches the caller,
// who is promised a follow-up either way.
func (b *Bridge) handleFunctionCall(session *sessions.Session, backend Backend, ev realtime.Event, logger *slog.Logger) {
	if ev.FunctionName != intake.FunctionName {
		logger.Warn("ignoring unknown function call", "name", ev.FunctionName)
		return
	}

	rec, err := intake.ExtractFunctionCall(ev.FunctionArgs)
	if err != nil {
		// Retryable: tell the backend which field is missing so it can ask
		// the caller and call again. Nothing is persisted.
		logger.Warn("intake payload rejected", "error", err)
		_ = backend.CompleteFunctionCall(ev.CallID, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	if !session.MarkSaved() {
		logger.Warn("duplicate intake function call ignored")
		return
	}

	caller := session.CallerNumber
	b.saves.Add(1)
	go func() {
		defer b.saves.Done()
		timeout := b.SaveTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		saveCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if _, err := b.Saver.Save(saveCtx, rec, caller); err != nil {
			// Non-fatal to the call: the record is logged for out-of-band
			// follow-up and the caller still hears the confirmation.
			logger.Error("intake persistence failed", "error", err, "record", rec)
		} else {
			logger.Info("intake persisted", "call_type", string(rec.CallType), "priority", string(rec.Priority))
		}
	}()

	if err := backend.CompleteFunctionCall(ev.CallID, map[string]any{"success": true}); err != nil {
		logger.Warn("function call completion failed", "error", err)
	}
}

func reasonOf(err error) string {
	switch {
	case err == nil:
		return "done"
	case errors.Is(err, errCallEnded):
		return "call ended"
	case errors.Is(err, errBackendClosed):
		return "backend closed"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return err.Error()
	}
}
