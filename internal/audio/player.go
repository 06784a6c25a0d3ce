package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"orbit-chat/internal/model"
)

const defaultPlayerCommand = "ffplay -nodisp -autoexit -loglevel quiet"

// ExecPlayer renders clips by handing them to an external player
// process. The clip is written to a temp file and the file path is
// appended to the configured command line. Killing the process via ctx
// is how Stop interrupts a clip mid-play.
type ExecPlayer struct {
	argv []string
}

func NewExecPlayer(command string) *ExecPlayer {
	if strings.TrimSpace(command) == "" {
		command = defaultPlayerCommand
	}
	return &ExecPlayer{argv: strings.Fields(command)}
}

func (p *ExecPlayer) Play(ctx context.Context, item model.PlaybackItem) error {
	f, err := os.CreateTemp("", "orbit-audio-*."+fileExt(item.Format))
	if err != nil {
		return fmt.Errorf("audio temp file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(item.Data); err != nil {
		f.Close()
		return fmt.Errorf("audio temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("audio temp file: %w", err)
	}

	args := append(append([]string(nil), p.argv[1:]...), path)
	cmd := exec.CommandContext(ctx, p.argv[0], args...)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("audio player %s: %w", p.argv[0], err)
	}
	return nil
}

func fileExt(format string) string {
	switch strings.ToLower(format) {
	case "", "mp3":
		return "mp3"
	case "opus":
		return "opus"
	case "wav":
		return "wav"
	default:
		return strings.ToLower(format)
	}
}
