package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicechatllm/voicechat/internal/chat"
	"github.com/voicechatllm/voicechat/internal/convo"
	"github.com/voicechatllm/voicechat/internal/policy"
	"github.com/voicechatllm/voicechat/internal/protocol"
	"github.com/voicechatllm/voicechat/internal/session"
	"github.com/voicechatllm/voicechat/internal/transcript"
)

// turnInput is one queued client turn: a recorded utterance or typed text.
type turnInput struct {
	audio []byte
	text  string
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.newLoop == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation loop not configured")
		return
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if sess.Status != session.StatusActive {
		respondError(w, http.StatusNotFound, "session_not_found", "session has ended")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &wsSession{
		server:   s,
		session:  sess,
		outbound: make(chan any, 256),
		inbound:  make(chan turnInput, 8),
	}

	capturer := &queueCapturer{ch: make(chan []byte, 1)}
	c.capturer = capturer
	c.loop = s.newLoop(LoopParams{
		Session:  sess,
		Capturer: capturer,
		Player:   &wsPlayer{conn: c},
		Hooks: convo.Hooks{
			OnState: func(st convo.State) {
				c.send(protocol.StateEvent{
					Type:      protocol.TypeState,
					SessionID: sess.ID,
					State:     string(st),
					TSMs:      time.Now().UnixMilli(),
				})
			},
			OnTranscript: func(text string) {
				c.send(protocol.Transcript{
					Type:      protocol.TypeTranscript,
					SessionID: sess.ID,
					Text:      text,
					TSMs:      time.Now().UnixMilli(),
				})
			},
			OnReplyDelta: func(delta string) {
				c.send(protocol.ReplyDelta{
					Type:      protocol.TypeReplyDelta,
					SessionID: sess.ID,
					TextDelta: delta,
				})
			},
			OnReply: func(turn *chat.Turn) {
				c.send(protocol.Reply{
					Type:        protocol.TypeReply,
					SessionID:   sess.ID,
					TurnID:      turn.ID,
					Text:        turn.ReplyText,
					ContextLoad: c.loop.History().ContextLoad(),
					TSMs:        time.Now().UnixMilli(),
				})
			},
		},
	})

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		c.runTurns(ctx, cancel)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-c.outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(8 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			c.send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sess.ID,
				Code:      "invalid_client_message",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}

		switch msg := parsed.(type) {
		case protocol.ClientUtterance:
			audio, err := base64.StdEncoding.DecodeString(msg.AudioBase64)
			if err != nil {
				c.send(protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sess.ID,
					Code:      "invalid_audio",
					Retryable: false,
					Detail:    "audio_base64 is not valid base64",
				})
				continue
			}
			c.enqueue(turnInput{audio: audio})
		case protocol.ClientText:
			c.enqueue(turnInput{text: msg.Text})
		case protocol.ClientControl:
			if done := c.handleControl(msg, cancel); done {
				break readLoop
			}
		}

		select {
		case <-ctx.Done():
			break readLoop
		default:
		}
	}

	cancel()
	close(c.inbound)
	<-runDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

// wsSession ties one websocket connection to its conversation loop.
type wsSession struct {
	server   *Server
	session  *session.Session
	loop     *convo.Loop
	capturer *queueCapturer
	outbound chan any
	inbound  chan turnInput

	mu         sync.Mutex
	turnCancel context.CancelFunc
}

// send queues a message for the writer; messages are dropped rather than
// blocking the pipeline when the client cannot keep up.
func (c *wsSession) send(msg any) {
	select {
	case c.outbound <- msg:
	default:
	}
}

func (c *wsSession) enqueue(in turnInput) {
	_ = c.server.sessions.Touch(c.session.ID)
	// A new input while a turn is still speaking or thinking is a barge-in:
	// the in-flight turn yields to the fresh one.
	if c.cancelTurn() {
		_ = c.server.sessions.Interrupt(c.session.ID)
		c.server.metrics.ObserveIndicator("barge_in")
	}
	select {
	case c.inbound <- in:
	default:
		c.send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: c.session.ID,
			Code:      "turn_queue_full",
			Retryable: true,
			Detail:    "previous turns are still being processed",
		})
	}
}

func (c *wsSession) handleControl(msg protocol.ClientControl, cancelConn context.CancelFunc) (done bool) {
	switch msg.Action {
	case protocol.ActionInterrupt:
		c.cancelTurn()
		_ = c.server.sessions.Interrupt(c.session.ID)
		c.server.metrics.ObserveIndicator("barge_in")
		c.send(protocol.SystemEvent{
			Type:      protocol.TypeSystemEvent,
			SessionID: c.session.ID,
			Code:      "turn_interrupted",
		})
	case protocol.ActionReset:
		c.loop.History().Clear()
		c.send(protocol.SystemEvent{
			Type:      protocol.TypeSystemEvent,
			SessionID: c.session.ID,
			Code:      "history_reset",
		})
	case protocol.ActionStop:
		c.loop.Stop()
		c.cancelTurn()
		if _, err := c.server.sessions.End(c.session.ID); err == nil {
			c.server.metrics.ActiveSessions.Set(float64(c.server.sessions.ActiveCount()))
			c.server.metrics.SessionEvents.WithLabelValues("ended").Inc()
		}
		cancelConn()
		return true
	}
	return false
}

// cancelTurn cancels the in-flight turn, reporting whether one was running.
func (c *wsSession) cancelTurn() bool {
	c.mu.Lock()
	cancel := c.turnCancel
	c.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

func (c *wsSession) setTurnCancel(cancel context.CancelFunc) {
	c.mu.Lock()
	c.turnCancel = cancel
	c.mu.Unlock()
}

// runTurns services queued inputs one turn at a time.
func (c *wsSession) runTurns(ctx context.Context, cancelConn context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-c.inbound:
			if !ok {
				return
			}
			c.runOne(ctx, in)
			if c.loop.Stopped() {
				c.send(protocol.SystemEvent{
					Type:      protocol.TypeSystemEvent,
					SessionID: c.session.ID,
					Code:      "session_stopped",
				})
				cancelConn()
				return
			}
		}
	}
}

func (c *wsSession) runOne(ctx context.Context, in turnInput) {
	turnCtx, cancel := context.WithCancel(ctx)
	c.setTurnCancel(cancel)
	defer func() {
		c.setTurnCancel(nil)
		cancel()
	}()

	var (
		turn *chat.Turn
		err  error
	)
	if in.text != "" {
		turn, err = c.loop.RunTextTurn(turnCtx, in.text)
	} else {
		c.capturer.offer(in.audio)
		turn, err = c.loop.RunTurn(turnCtx)
	}

	switch {
	case err == nil:
		_ = c.server.sessions.CompleteTurn(c.session.ID)
		c.persistTurn(turn)
	case errors.Is(err, convo.ErrNoSpeech):
		c.send(protocol.SystemEvent{
			Type:      protocol.TypeSystemEvent,
			SessionID: c.session.ID,
			Code:      "no_speech",
		})
	case errors.Is(err, context.Canceled):
		c.send(protocol.SystemEvent{
			Type:      protocol.TypeSystemEvent,
			SessionID: c.session.ID,
			Code:      "turn_cancelled",
		})
	case errors.Is(err, convo.ErrStopped):
	default:
		var step *convo.StepError
		stage := ""
		if errors.As(err, &step) {
			stage = string(step.Stage)
		}
		c.send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: c.session.ID,
			Code:      "turn_failed",
			Stage:     stage,
			Retryable: !convo.IsFatal(err),
			Detail:    err.Error(),
		})
		c.server.log.Warn().Err(err).Str("session_id", c.session.ID).Msg("turn failed")
	}
}

// persistTurn writes both sides of a completed turn to the transcript store,
// redacting PII before anything touches disk.
func (c *wsSession) persistTurn(turn *chat.Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, entry := range []struct {
		role, content string
	}{
		{"user", turn.UserText},
		{"assistant", turn.ReplyText},
	} {
		if entry.content == "" {
			continue
		}
		content, redacted := policy.RedactPII(entry.content)
		err := c.server.store.SaveLine(ctx, transcript.Line{
			SessionID:   c.session.ID,
			TurnID:      turn.ID,
			Role:        entry.role,
			Content:     content,
			PIIRedacted: redacted,
		})
		if err != nil {
			c.server.log.Warn().Err(err).Str("session_id", c.session.ID).Msg("transcript write failed")
		}
	}
}

// queueCapturer hands a pre-received utterance to the loop's capture stage.
type queueCapturer struct {
	ch chan []byte
}

func (c *queueCapturer) offer(audio []byte) {
	select {
	case c.ch <- audio:
	default:
	}
}

func (c *queueCapturer) CaptureUtterance(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case audio := <-c.ch:
		if len(audio) == 0 {
			return nil, convo.ErrNoSpeech
		}
		return audio, nil
	}
}

// wsPlayer streams each synthesized clip to the client as it becomes ready.
type wsPlayer struct {
	conn *wsSession
}

func (p *wsPlayer) Play(ctx context.Context, clip []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.conn.send(protocol.ReplyAudio{
		Type:        protocol.TypeReplyAudio,
		SessionID:   p.conn.session.ID,
		Format:      "wav",
		AudioBase64: base64.StdEncoding.EncodeToString(clip),
	})
	return nil
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientUtterance:
		return m.Type, true
	case protocol.ClientText:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.StateEvent:
		return m.Type, true
	case protocol.Transcript:
		return m.Type, true
	case protocol.ReplyDelta:
		return m.Type, true
	case protocol.Reply:
		return m.Type, true
	case protocol.ReplyAudio:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
