package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// WhisperCPP runs the whisper.cpp command line tool against a WAV file.
type WhisperCPP struct {
	command string
	threads int
}

func NewWhisperCPP(command string, threads int) *WhisperCPP {
	if command == "" {
		command = "whisper-cli"
	}
	return &WhisperCPP{command: command, threads: threads}
}

func (w *WhisperCPP) Name() string { return "whisper.cpp" }

func (w *WhisperCPP) Transcribe(ctx context.Context, modelPath, wavPath, language string) (string, error) {
	if language == "" {
		language = "auto"
	}
	args := []string{"-m", modelPath, "-f", wavPath, "-l", language, "-nt", "-np"}
	if w.threads > 0 {
		args = append(args, "-t", strconv.Itoa(w.threads))
	}

	out, err := exec.CommandContext(ctx, w.command, args...).Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return "", fmt.Errorf("%s failed: %s", w.command, strings.TrimSpace(string(ee.Stderr)))
		}
		return "", fmt.Errorf("run %s: %w", w.command, err)
	}
	return joinLines(string(out)), nil
}

func joinLines(out string) string {
	var parts []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}
