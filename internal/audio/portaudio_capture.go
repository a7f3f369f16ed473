//go:build portaudio

package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gordonklaus/portaudio"

	"murmur/internal/domain"
	"murmur/internal/ports"
)

const portAudioFrames = 1024

// PortAudioCapture reads the default input device through PortAudio.
type PortAudioCapture struct{}

func NewPortAudioCapture() *PortAudioCapture {
	return &PortAudioCapture{}
}

func (c *PortAudioCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cfg = normalizeConfig(cfg)

	if err := portaudio.Initialize(); err != nil {
		return nil, domain.DeviceError("initialize portaudio", err)
	}

	in := make([]int16, portAudioFrames*cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), portAudioFrames, in)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, domain.DeviceError("open input stream", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, domain.DeviceError("start input stream", err)
	}

	pr, pw := io.Pipe()
	s := &portAudioSession{
		stream: stream,
		in:     in,
		reader: pr,
		writer: pw,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

type portAudioSession struct {
	stream *portaudio.Stream
	in     []int16

	reader *io.PipeReader
	writer *io.PipeWriter

	quit chan struct{}
	done chan struct{}

	stopOnce sync.Once
	stopErr  error
}

func (s *portAudioSession) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

// Close discards unread frames, which also unblocks the read loop.
func (s *portAudioSession) Close() error {
	_ = s.reader.Close()
	return s.Stop()
}

// Stop releases the device. Frames already read stay readable until EOF.
func (s *portAudioSession) Stop() error {
	s.stopOnce.Do(func() {
		close(s.quit)
		<-s.done

		var errs []error
		if err := s.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop stream: %w", err))
		}
		if err := s.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stream: %w", err))
		}
		if err := portaudio.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("terminate portaudio: %w", err))
		}
		s.stopErr = errors.Join(errs...)
	})
	return s.stopErr
}

func (s *portAudioSession) readLoop() {
	defer close(s.done)
	defer s.writer.Close()

	chunk := make([]byte, 2*len(s.in))
	for {
		select {
		case <-s.quit:
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			s.writer.CloseWithError(domain.DeviceError("read input stream", err))
			return
		}
		for i, v := range s.in {
			binary.LittleEndian.PutUint16(chunk[2*i:], uint16(v))
		}
		if _, err := s.writer.Write(chunk); err != nil {
			return
		}
	}
}
