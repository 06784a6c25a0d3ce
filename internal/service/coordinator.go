package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"orbit-chat/internal/audio"
	"orbit-chat/internal/model"
	"orbit-chat/internal/stream"
	"orbit-chat/internal/transport"
	"orbit-chat/pkg/logger"
)

// FallbackMessage fills an assistant bubble when a turn completes
// without producing any text or audio, so the UI never shows a silently
// empty reply.
const FallbackMessage = "No response received from the server. Please try again."

// ErrTurnInFlight is returned when a turn is started on a conversation
// that already has one streaming.
var ErrTurnInFlight = errors.New("a turn is already in flight for this conversation")

// Backend is the slice of the transport the coordinator consumes.
// *transport.Client satisfies it.
type Backend interface {
	Stream(ctx context.Context, sessionID string, req model.ChatRequest) (<-chan model.StreamEvent, <-chan error)
	StopGeneration(sessionID, requestID string)
	CreateThread(ctx context.Context, messageID, sessionID string) (model.ThreadInfo, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// TurnInput carries everything a single turn can send to the backend.
type TurnInput struct {
	Text    string
	FileIDs []string

	// Thread routing: both set when the turn belongs to a thread.
	ThreadID        string
	ParentMessageID string

	// Voice input/output.
	AudioInput          []byte
	AudioFormat         string
	RecognitionLanguage string
	ReturnAudio         bool
	TTSVoice            string
}

// TurnResult reports how a turn ended.
type TurnResult struct {
	AssistantMessageID string
	Content            string
	Cancelled          bool
	Failed             bool
}

// turnState is the live half of the per-conversation state machine:
// its presence in the map means Streaming, its absence Idle.
type turnState struct {
	cancel    context.CancelFunc
	requestID string
	sessionID string
}

// Coordinator drives one in-flight exchange per conversation: it feeds
// the transport's events through the reconciler and coalescer into the
// store, routes audio into the per-conversation playback queue, and
// guarantees cancellation stops all of it without corrupting state.
type Coordinator struct {
	store   *Store
	backend Backend
	player  audio.Player

	mu     sync.Mutex
	turns  map[string]*turnState
	queues map[string]*audio.Queue
}

func NewCoordinator(store *Store, backend Backend, player audio.Player) *Coordinator {
	return &Coordinator{
		store:   store,
		backend: backend,
		player:  player,
		turns:   make(map[string]*turnState),
		queues:  make(map[string]*audio.Queue),
	}
}

// Send runs one full turn against the backend and blocks until the
// stream ends, fails or is cancelled. At most one turn per conversation
// may be live; a second Send returns ErrTurnInFlight. Audio queued for
// playback may still be draining when Send returns.
func (c *Coordinator) Send(ctx context.Context, conversationID string, input TurnInput) (*TurnResult, error) {
	conv, err := c.store.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}

	sessionID := conv.SessionID
	if input.ThreadID != "" {
		if tsid := threadSessionID(conv, input.ParentMessageID, input.ThreadID); tsid != "" {
			sessionID = tsid
		}
	}

	turnCtx, st, err := c.beginTurn(ctx, conversationID, sessionID)
	if err != nil {
		return nil, err
	}

	msgs, err := c.store.StartTurn(conversationID, input.Text, input.ThreadID, input.ParentMessageID)
	if err != nil {
		c.endTurn(conversationID)
		st.cancel()
		return nil, err
	}

	queue := c.queueFor(conversationID, conv.AudioEnabled)

	req := model.ChatRequest{
		Message:             input.Text,
		Stream:              true,
		FileIDs:             input.FileIDs,
		ThreadID:            input.ThreadID,
		AudioFormat:         input.AudioFormat,
		RecognitionLanguage: input.RecognitionLanguage,
		ReturnAudio:         input.ReturnAudio && conv.AudioEnabled,
		TTSVoice:            input.TTSVoice,
	}
	if len(input.AudioInput) > 0 {
		req.AudioInput = encodeAudioInput(input.AudioInput)
	}

	events, errCh := c.backend.Stream(turnCtx, sessionID, req)

	var (
		cumulative string
		sawText    bool
		sawAudio   bool
		streamErr  error
	)

	// Finalization must run on every path so no message is left stuck
	// in the streaming state.
	defer func() {
		c.store.FlushPending(conversationID)
		c.endTurn(conversationID)
		st.cancel()
	}()

	for ev := range events {
		switch e := ev.(type) {
		case model.RequestID:
			c.setRequestID(conversationID, e.ID)
		case model.TextDelta:
			delta := stream.Reconcile(cumulative, e.Text)
			if delta == "" {
				continue
			}
			cumulative += delta
			sawText = true
			c.store.QueueDelta(conversationID, delta)
		case model.AudioChunk:
			// Audio buffered in the channel at cancel time must not
			// play after Cancel already stopped the queue.
			if turnCtx.Err() != nil {
				continue
			}
			sawAudio = true
			queue.EnqueueChunk(e.Data, e.Format)
		case model.AudioFull:
			if turnCtx.Err() != nil {
				continue
			}
			sawAudio = true
			// Playback of the full clip drains after Done; Send does
			// not wait for speakers.
			go queue.PlayFull(e.Data, e.Format)
		case model.Threading:
			if e.Supported {
				if err := c.store.MarkThreadSupported(conversationID, msgs.AssistantMessageID, e.MessageID); err != nil {
					logger.Warnf("coordinator: recording thread support: %v", err)
				}
			}
		case model.StreamError:
			streamErr = fmt.Errorf("%w: %s", transport.ErrTransport, e.Message)
		case model.Done:
			// Terminal; the channel closes right after.
		}
	}

	if err := <-errCh; err != nil && streamErr == nil {
		streamErr = err
	}

	return c.finishTurn(conversationID, msgs, cumulative, sawText, sawAudio, streamErr, queue)
}

// finishTurn settles conversation state after the stream ended for any
// reason. The deferred block in Send has not run yet, so pending text
// is flushed here first to keep ordering obvious.
func (c *Coordinator) finishTurn(conversationID string, msgs TurnMessages, cumulative string, sawText, sawAudio bool, streamErr error, queue *audio.Queue) (*TurnResult, error) {
	c.store.FlushPending(conversationID)

	result := &TurnResult{AssistantMessageID: msgs.AssistantMessageID, Content: cumulative}

	switch {
	case streamErr == nil:
		if !sawText && !sawAudio {
			if err := c.store.ApplyTextDelta(conversationID, FallbackMessage); err != nil {
				logger.Warnf("coordinator: applying fallback message: %v", err)
			}
			result.Content = FallbackMessage
		}
	case errors.Is(streamErr, context.Canceled):
		// Caller-initiated cancellation is expected, not an error.
		result.Cancelled = true
	default:
		queue.Stop()
		result.Failed = true
		if err := c.store.RecordError(conversationID, streamErr.Error()); err != nil {
			logger.Errorf("coordinator: recording turn error: %v", err)
		}
	}

	if err := c.store.FinalizeTurn(conversationID); err != nil {
		return result, err
	}
	return result, nil
}

// Cancel aborts the in-flight turn: it signals the transport to stop,
// flushes buffered text, clears queued audio, and best-effort tells the
// backend to abandon generation. Valid only while a turn is streaming.
func (c *Coordinator) Cancel(conversationID string) bool {
	c.mu.Lock()
	st := c.turns[conversationID]
	queue := c.queues[conversationID]
	var requestID, sessionID string
	if st != nil {
		requestID, sessionID = st.requestID, st.sessionID
	}
	c.mu.Unlock()

	if st == nil {
		return false
	}

	st.cancel()
	c.store.FlushPending(conversationID)
	if queue != nil {
		queue.Stop()
	}
	if requestID != "" {
		go c.backend.StopGeneration(sessionID, requestID)
	}
	return true
}

// Streaming reports whether a turn is live for the conversation.
func (c *Coordinator) Streaming(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turns[conversationID] != nil
}

// SetAudioEnabled toggles speech playback for a conversation. Disabling
// stops anything queued or playing immediately.
func (c *Coordinator) SetAudioEnabled(conversationID string, enabled bool) {
	c.mu.Lock()
	queue := c.queues[conversationID]
	c.mu.Unlock()

	if queue != nil {
		queue.SetEnabled(enabled)
	}
}

// DeleteConversation removes local state and tells the backend to drop
// its side of the session. An in-flight turn is cancelled first.
func (c *Coordinator) DeleteConversation(ctx context.Context, conversationID string) error {
	conv, err := c.store.GetConversation(conversationID)
	if err != nil {
		return err
	}

	c.Cancel(conversationID)

	c.mu.Lock()
	if queue := c.queues[conversationID]; queue != nil {
		queue.Stop()
		delete(c.queues, conversationID)
	}
	c.mu.Unlock()

	if err := c.store.DeleteConversation(conversationID); err != nil {
		return err
	}
	if err := c.backend.DeleteSession(ctx, conv.SessionID); err != nil {
		// Local state already gone; the backend cleans up on TTL.
		logger.Warnf("coordinator: backend session delete failed: %v", err)
	}
	return nil
}

// AudioQueue exposes the per-conversation queue, mainly so tests and
// the TUI can observe draining.
func (c *Coordinator) AudioQueue(conversationID string) *audio.Queue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queues[conversationID]
}

func (c *Coordinator) beginTurn(ctx context.Context, conversationID, sessionID string) (context.Context, *turnState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.turns[conversationID] != nil {
		return nil, nil, ErrTurnInFlight
	}

	turnCtx, cancel := context.WithCancel(ctx)
	st := &turnState{cancel: cancel, sessionID: sessionID}
	c.turns[conversationID] = st
	return turnCtx, st, nil
}

func (c *Coordinator) endTurn(conversationID string) {
	c.mu.Lock()
	delete(c.turns, conversationID)
	c.mu.Unlock()
}

func (c *Coordinator) setRequestID(conversationID, requestID string) {
	c.mu.Lock()
	if st := c.turns[conversationID]; st != nil {
		st.requestID = requestID
	}
	c.mu.Unlock()
}

func (c *Coordinator) queueFor(conversationID string, enabled bool) *audio.Queue {
	c.mu.Lock()
	defer c.mu.Unlock()

	queue := c.queues[conversationID]
	if queue == nil {
		queue = audio.NewQueue(c.player, enabled)
		c.queues[conversationID] = queue
	}
	return queue
}

func encodeAudioInput(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func threadSessionID(conv *model.Conversation, parentMessageID, threadID string) string {
	for _, msg := range conv.Messages {
		if msg.ID == parentMessageID && msg.ThreadInfo != nil && msg.ThreadInfo.ThreadID == threadID {
			return msg.ThreadInfo.ThreadSessionID
		}
	}
	return ""
}
