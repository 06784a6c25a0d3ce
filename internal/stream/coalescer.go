package stream

import (
	"sync"
	"time"
)

// ApplyFunc receives coalesced text for a conversation. It is invoked
// with the coalescer lock held, so implementations must not call back
// into the coalescer.
type ApplyFunc func(conversationID, text string)

type pendingState struct {
	text     string
	timer    *time.Timer
	sawFirst bool
}

// Coalescer bounds the rate of conversation-state mutation: a burst of
// small text fragments is folded into few applies, without dropping or
// reordering anything. Each owner (the state store) creates its own
// instance and disposes entries when a conversation goes away.
type Coalescer struct {
	mu       sync.Mutex
	pending  map[string]*pendingState
	interval time.Duration
	apply    ApplyFunc
}

func NewCoalescer(interval time.Duration, apply ApplyFunc) *Coalescer {
	if interval <= 0 {
		interval = 48 * time.Millisecond
	}
	return &Coalescer{
		pending:  make(map[string]*pendingState),
		interval: interval,
		apply:    apply,
	}
}

// Append adds reconciled text for a conversation. The first fragment of
// a turn is applied immediately so the first token shows up with no
// debounce latency; everything after rides the timer.
func (c *Coalescer) Append(conversationID, text string) {
	if text == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.pending[conversationID]
	if st == nil {
		st = &pendingState{}
		c.pending[conversationID] = st
	}

	if !st.sawFirst {
		st.sawFirst = true
		c.apply(conversationID, text)
		return
	}

	st.text += text
	if st.timer == nil {
		st.timer = time.AfterFunc(c.interval, func() {
			c.fire(conversationID)
		})
	}
}

func (c *Coalescer) fire(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.pending[conversationID]
	if st == nil {
		return
	}
	st.timer = nil
	if st.text == "" {
		return
	}
	text := st.text
	st.text = ""
	c.apply(conversationID, text)
}

// Flush synchronously applies anything still buffered and disarms the
// timer. After Flush, no text is pending and the next Append is treated
// as the first fragment of a new turn.
func (c *Coalescer) Flush(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.pending[conversationID]
	if st == nil {
		return
	}
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	if st.text != "" {
		text := st.text
		st.text = ""
		c.apply(conversationID, text)
	}
	st.sawFirst = false
}

// Remove drops all buffered state for a conversation, used when the
// conversation itself is deleted.
func (c *Coalescer) Remove(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st := c.pending[conversationID]; st != nil && st.timer != nil {
		st.timer.Stop()
	}
	delete(c.pending, conversationID)
}

// Pending reports whether text is buffered or a timer is armed,
// exported for invariant checks in tests.
func (c *Coalescer) Pending(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.pending[conversationID]
	return st != nil && (st.text != "" || st.timer != nil)
}
