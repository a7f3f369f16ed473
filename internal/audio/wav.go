package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"murmur/internal/domain"
)

var ErrEmptyBuffer = errors.New("audio buffer is empty")

// WriteWAV encodes buf as 16-bit PCM WAV.
func WriteWAV(w io.WriteSeeker, buf *domain.AudioBuffer) error {
	if buf == nil || len(buf.Samples) == 0 {
		return ErrEmptyBuffer
	}

	enc := wav.NewEncoder(w, buf.SampleRate, 16, buf.Channels, 1)
	data := make([]int, len(buf.Samples))
	for i, s := range buf.Samples {
		data[i] = int(s)
	}
	ib := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: buf.Channels,
			SampleRate:  buf.SampleRate,
		},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(ib); err != nil {
		_ = enc.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	return enc.Close()
}

// WriteTempWAV writes buf to a new file under dir (os.TempDir when empty).
// The caller removes the file with the returned cleanup.
func WriteTempWAV(dir string, buf *domain.AudioBuffer) (string, func(), error) {
	f, err := os.CreateTemp(dir, "murmur-*.wav")
	if err != nil {
		return "", func() {}, fmt.Errorf("create temp wav: %w", err)
	}
	path := f.Name()
	cleanup := func() { _ = os.Remove(path) }

	if err := WriteWAV(f, buf); err != nil {
		_ = f.Close()
		cleanup()
		return "", func() {}, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("close temp wav: %w", err)
	}
	return path, cleanup, nil
}

// PCMBytes returns the buffer as raw little-endian s16 bytes.
func PCMBytes(buf *domain.AudioBuffer) []byte {
	if buf == nil {
		return nil
	}
	out := make([]byte, 2*len(buf.Samples))
	for i, s := range buf.Samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// DecodePCM appends complete s16le samples from p to buf and returns the
// trailing odd byte, if any, for the next read.
func DecodePCM(buf *domain.AudioBuffer, p []byte) []byte {
	n := len(p) &^ 1
	for i := 0; i < n; i += 2 {
		buf.Samples = append(buf.Samples, int16(binary.LittleEndian.Uint16(p[i:])))
	}
	if n == len(p) {
		return nil
	}
	return []byte{p[n]}
}
