package usecase

import (
	"errors"
	"io"
	"os"

	"github.com/rs/zerolog"

	"murmur/internal/audio"
	"murmur/internal/domain"
	"murmur/internal/ports"
)

// capturePump drains a capture session into the session's buffer.
type capturePump struct {
	buffer *domain.AudioBuffer
	done   chan struct{}
	err    error
}

func startCapturePump(session ports.AudioSession, buffer *domain.AudioBuffer, chunkSize int, logger zerolog.Logger) *capturePump {
	p := &capturePump{buffer: buffer, done: make(chan struct{})}
	go p.run(session, chunkSize, logger)
	return p
}

func (p *capturePump) run(session ports.AudioSession, chunkSize int, logger zerolog.Logger) {
	defer close(p.done)

	if chunkSize < 256 {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	var carry []byte
	heard := false
	for {
		n, err := session.Read(buf)
		if n > 0 {
			before := len(p.buffer.Samples)
			carry = audio.DecodePCM(p.buffer, append(carry, buf[:n]...))
			if !heard {
				level := domain.PeakDBFS(p.buffer.Samples[before:])
				if level > domain.MinDBFS {
					heard = true
					logger.Debug().Float64("peak_dbfs", level).Msg("microphone activity detected")
				} else {
					// Leading silence is not kept.
					p.buffer.Samples = p.buffer.Samples[:before]
				}
			}
		}
		if err != nil {
			if !endOfCapture(err) {
				p.err = domain.DeviceError("read capture", err)
			}
			return
		}
	}
}

func endOfCapture(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
