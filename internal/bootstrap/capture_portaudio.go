//go:build portaudio

package bootstrap

import (
	"murmur/internal/audio"
	"murmur/internal/ports"
)

func nativeCapture() ports.AudioCapture {
	return audio.NewPortAudioCapture()
}
