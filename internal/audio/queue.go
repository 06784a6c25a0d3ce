package audio

import (
	"context"
	"sync"

	"orbit-chat/internal/model"
	"orbit-chat/pkg/logger"
)

// Player renders one clip of synthesized speech. Play blocks until the
// clip finishes or ctx is cancelled. Implementations live at the
// process edge (speakers, a test recorder); the queue only sequences.
type Player interface {
	Play(ctx context.Context, item model.PlaybackItem) error
}

// Queue plays speech fragments strictly in arrival order on a single
// drain goroutine, decoupled from the text pipeline. A playback error
// on one item never stalls the rest; Stop clears everything at any
// point, including mid-clip.
type Queue struct {
	player Player

	mu      sync.Mutex
	cond    *sync.Cond
	enabled bool
	items   []model.PlaybackItem
	playing bool
	// In-flight clip contexts, keyed so the drain loop and PlayFull can
	// each retire their own without cancelling the other's.
	cancels map[uint64]context.CancelFunc
	nextID  uint64
}

func NewQueue(player Player, enabled bool) *Queue {
	q := &Queue{
		player:  player,
		enabled: enabled,
		cancels: make(map[uint64]context.CancelFunc),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// beginPlayLocked registers a fresh clip context under q.mu, so Stop
// can never slip between dequeue and registration; endPlay releases it
// unless Stop already did.
func (q *Queue) beginPlayLocked() (context.Context, uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	q.nextID++
	id := q.nextID
	q.cancels[id] = cancel
	return ctx, id
}

func (q *Queue) endPlay(id uint64) {
	q.mu.Lock()
	if cancel, ok := q.cancels[id]; ok {
		cancel()
		delete(q.cancels, id)
	}
	q.mu.Unlock()
}

// EnqueueChunk appends a fragment and starts the drain loop if idle.
// No-op while disabled.
func (q *Queue) EnqueueChunk(data []byte, format string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.enabled {
		return
	}
	q.items = append(q.items, model.PlaybackItem{Data: data, Format: format})
	if !q.playing {
		q.playing = true
		go q.drain()
	}
}

// PlayFull plays one complete clip, bypassing any queued fragments.
// Used when the backend returns the whole reply as a single clip.
func (q *Queue) PlayFull(data []byte, format string) {
	q.mu.Lock()
	if !q.enabled {
		q.mu.Unlock()
		return
	}
	ctx, id := q.beginPlayLocked()
	q.mu.Unlock()

	if err := q.player.Play(ctx, model.PlaybackItem{Data: data, Format: format}); err != nil {
		logger.Warnf("audio: full-clip playback failed: %v", err)
	}
	q.endPlay(id)
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.playing = false
			q.cond.Broadcast()
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		ctx, id := q.beginPlayLocked()
		q.mu.Unlock()

		// Errors are swallowed per item so a corrupt fragment cannot
		// stall the ones behind it.
		if err := q.player.Play(ctx, item); err != nil {
			logger.Warnf("audio: skipping chunk after playback error: %v", err)
		}
		q.endPlay(id)
	}
}

// Stop clears the queue and interrupts the clip being played. Safe to
// call at any time; nothing queued plays afterward.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopLocked()
}

// SetEnabled toggles playback. Disabling implies an immediate Stop.
func (q *Queue) SetEnabled(enabled bool) {
	q.mu.Lock()
	q.enabled = enabled
	if !enabled {
		q.stopLocked()
	}
	q.mu.Unlock()
}

func (q *Queue) stopLocked() {
	q.items = nil
	for id, cancel := range q.cancels {
		cancel()
		delete(q.cancels, id)
	}
}

// Len reports how many fragments are still queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain blocks until the drain loop goes idle. Test hook.
func (q *Queue) Drain() {
	q.mu.Lock()
	for q.playing {
		q.cond.Wait()
	}
	q.mu.Unlock()
}
