package transport

import (
	"encoding/base64"

	"orbit-chat/internal/model"
	"orbit-chat/pkg/logger"
)

// streamFrame is the raw wire shape of one backend frame. Fields are
// optional on the wire; events() turns the set that is present into
// explicit StreamEvent variants so nothing downstream probes for fields.
type streamFrame struct {
	Text        string          `json:"text"`
	Done        bool            `json:"done"`
	AudioChunk  string          `json:"audio_chunk"`
	AudioFormat string          `json:"audioFormat"`
	Audio       string          `json:"audio"`
	RequestID   string          `json:"request_id"`
	Error       string          `json:"error"`
	Threading   *threadingFrame `json:"threading"`
}

type threadingFrame struct {
	SupportsThreading bool   `json:"supports_threading"`
	MessageID         string `json:"message_id"`
	SessionID         string `json:"session_id"`
}

// events decodes the frame in a fixed order: request correlation first,
// then content, then end-of-turn metadata, with Done always last.
func (f *streamFrame) events() []model.StreamEvent {
	var out []model.StreamEvent

	if f.RequestID != "" {
		out = append(out, model.RequestID{ID: f.RequestID})
	}
	if f.Error != "" {
		out = append(out, model.StreamError{Message: f.Error})
	}
	if f.Text != "" {
		out = append(out, model.TextDelta{Text: f.Text})
	}
	if f.AudioChunk != "" {
		if data, ok := decodeAudio(f.AudioChunk); ok {
			out = append(out, model.AudioChunk{Data: data, Format: orDefault(f.AudioFormat, "opus")})
		}
	}
	if f.Done {
		// A full clip and threading info are only valid on the final
		// frame.
		if f.Audio != "" {
			if data, ok := decodeAudio(f.Audio); ok {
				out = append(out, model.AudioFull{Data: data, Format: orDefault(f.AudioFormat, "mp3")})
			}
		}
		if f.Threading != nil {
			out = append(out, model.Threading{
				Supported: f.Threading.SupportsThreading,
				MessageID: f.Threading.MessageID,
				SessionID: f.Threading.SessionID,
			})
		}
		out = append(out, model.Done{})
	}

	return out
}

// decodeAudio drops undecodable payloads rather than failing the turn;
// a corrupt audio fragment must not take the text stream down with it.
func decodeAudio(b64 string) ([]byte, bool) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		logger.Warnf("transport: dropping audio payload with bad base64: %v", err)
		return nil, false
	}
	return data, true
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
