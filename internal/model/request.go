package model

// ChatRequest is the body POSTed to the backend for one turn. The
// session identifier travels in the X-Session-ID header, not here.
type ChatRequest struct {
	Message             string   `json:"message"`
	Stream              bool     `json:"stream"`
	FileIDs             []string `json:"file_ids,omitempty"`
	ThreadID            string   `json:"thread_id,omitempty"`
	AudioInput          string   `json:"audio_input,omitempty"` // base64
	AudioFormat         string   `json:"audio_format,omitempty"`
	RecognitionLanguage string   `json:"recognition_language,omitempty"`
	ReturnAudio         bool     `json:"return_audio,omitempty"`
	TTSVoice            string   `json:"tts_voice,omitempty"`
}

// StopRequest asks the backend to abandon an in-flight generation.
type StopRequest struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
}

// CreateThreadRequest branches a reply into its own thread.
type CreateThreadRequest struct {
	MessageID string `json:"message_id"`
	SessionID string `json:"session_id"`
}
