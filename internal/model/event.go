package model

// StreamEvent is the closed set of frames a turn's stream can yield.
// The transport decodes wire frames into these exactly once; nothing
// downstream inspects optional JSON fields.
type StreamEvent interface {
	streamEvent()
}

// TextDelta is an incremental fragment of assistant text. It may
// overlap or duplicate earlier fragments; the reconciler sorts that out.
type TextDelta struct {
	Text string
}

// AudioChunk is one synthesized speech fragment, played in arrival order.
type AudioChunk struct {
	Data   []byte
	Format string
}

// AudioFull is a single complete clip delivered with the final frame,
// used by backends that do not stream audio.
type AudioFull struct {
	Data   []byte
	Format string
}

// Threading reports whether the finished reply can anchor a thread,
// along with the backend's durable message and session identifiers.
type Threading struct {
	Supported bool
	MessageID string
	SessionID string
}

// RequestID correlates a later stop call; emitted at most once.
type RequestID struct {
	ID string
}

// StreamError is an error the backend reported inside the stream body.
type StreamError struct {
	Message string
}

// Done terminates the stream. Always the last event of a normal turn.
type Done struct{}

func (TextDelta) streamEvent()   {}
func (AudioChunk) streamEvent()  {}
func (AudioFull) streamEvent()   {}
func (Threading) streamEvent()   {}
func (RequestID) streamEvent()   {}
func (StreamError) streamEvent() {}
func (Done) streamEvent()        {}
