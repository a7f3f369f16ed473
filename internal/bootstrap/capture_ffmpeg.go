//go:build !portaudio

package bootstrap

import "murmur/internal/ports"

// nativeCapture is only available in builds tagged portaudio.
func nativeCapture() ports.AudioCapture {
	return nil
}
