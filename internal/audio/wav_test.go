package audio

import (
	"errors"
	"io"
	"os"
	"testing"

	"github.com/go-audio/wav"

	"murmur/internal/domain"
)

func TestWriteTempWAVRoundTrip(t *testing.T) {
	t.Parallel()

	buf := domain.NewAudioBuffer(16000, 1)
	buf.Append(0, 1200, -1200, 32767, -32768)

	path, cleanup, err := WriteTempWAV(t.TempDir(), buf)
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	defer cleanup()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer f.Close()

	got, err := readWAV(f)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got.SampleRate != 16000 || got.Channels != 1 {
		t.Fatalf("unexpected format: %d Hz, %d ch", got.SampleRate, got.Channels)
	}
	if len(got.Samples) != len(buf.Samples) {
		t.Fatalf("expected %d samples, got %d", len(buf.Samples), len(got.Samples))
	}
	for i := range buf.Samples {
		if got.Samples[i] != buf.Samples[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, buf.Samples[i], got.Samples[i])
		}
	}

	cleanup()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected cleanup to remove %s", path)
	}
}

func TestWriteTempWAVRejectsEmptyBuffer(t *testing.T) {
	t.Parallel()

	_, _, err := WriteTempWAV(t.TempDir(), domain.NewAudioBuffer(16000, 1))
	if !errors.Is(err, ErrEmptyBuffer) {
		t.Fatalf("expected empty buffer error, got %v", err)
	}
}

func TestDecodePCMCarriesOddByte(t *testing.T) {
	t.Parallel()

	buf := domain.NewAudioBuffer(16000, 1)
	rest := DecodePCM(buf, []byte{0x01, 0x00, 0xff})
	if len(buf.Samples) != 1 || buf.Samples[0] != 1 {
		t.Fatalf("unexpected samples: %v", buf.Samples)
	}
	if len(rest) != 1 || rest[0] != 0xff {
		t.Fatalf("expected trailing byte, got %v", rest)
	}

	rest = DecodePCM(buf, append(rest, 0xff))
	if rest != nil {
		t.Fatalf("expected no remainder, got %v", rest)
	}
	if buf.Samples[1] != -1 {
		t.Fatalf("expected -1, got %d", buf.Samples[1])
	}
}

func TestPCMBytesLittleEndian(t *testing.T) {
	t.Parallel()

	buf := &domain.AudioBuffer{Samples: []int16{1, -2}, SampleRate: 16000, Channels: 1}
	got := PCMBytes(buf)
	want := []byte{0x01, 0x00, 0xfe, 0xff}
	if string(got) != string(want) {
		t.Fatalf("unexpected bytes: %v", got)
	}
}

func readWAV(r io.ReadSeeker) (*domain.AudioBuffer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("not a valid wav file")
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	out := domain.NewAudioBuffer(int(dec.SampleRate), int(dec.NumChans))
	out.Samples = make([]int16, len(pcm.Data))
	for i, v := range pcm.Data {
		out.Samples[i] = int16(v)
	}
	return out, nil
}
