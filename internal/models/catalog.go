// Package models resolves whisper.cpp model names to verified files in the
// local cache, downloading them on demand.
package models

import (
	"sort"
	"strings"
)

// DefaultBaseURL is the whisper.cpp model repository on Hugging Face.
const DefaultBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// DefaultModel is used when no model is configured for the local backend.
const DefaultModel = "base-q8"

// Preset is a known ggml model.
type Preset struct {
	Name     string
	Filename string
	// ApproxSize is informational; verification uses the transfer length
	// and the configured checksum.
	ApproxSize int64
}

var presets = []Preset{
	{Name: "tiny-q8", Filename: "ggml-tiny-q8_0.bin", ApproxSize: 43_500_000},
	{Name: "tiny-en-q8", Filename: "ggml-tiny.en-q8_0.bin", ApproxSize: 43_600_000},
	{Name: "base-q8", Filename: "ggml-base-q8_0.bin", ApproxSize: 81_800_000},
	{Name: "base-en-q8", Filename: "ggml-base.en-q8_0.bin", ApproxSize: 81_800_000},
	{Name: "small-q8", Filename: "ggml-small-q8_0.bin", ApproxSize: 264_000_000},
	{Name: "small-en-q8", Filename: "ggml-small.en-q8_0.bin", ApproxSize: 264_000_000},
	{Name: "medium-q8", Filename: "ggml-medium-q8_0.bin", ApproxSize: 823_000_000},
	{Name: "medium-en-q8", Filename: "ggml-medium.en-q8_0.bin", ApproxSize: 823_000_000},
	{Name: "large-v3-turbo-q5", Filename: "ggml-large-v3-turbo-q5_0.bin", ApproxSize: 574_000_000},
}

var aliases = map[string]string{
	"tiny":           "tiny-q8",
	"tiny-en":        "tiny-en-q8",
	"tiny.en":        "tiny-en-q8",
	"base":           "base-q8",
	"base-en":        "base-en-q8",
	"base.en":        "base-en-q8",
	"small":          "small-q8",
	"small-en":       "small-en-q8",
	"small.en":       "small-en-q8",
	"medium":         "medium-q8",
	"medium-en":      "medium-en-q8",
	"medium.en":      "medium-en-q8",
	"large-v3-turbo": "large-v3-turbo-q5",
	"turbo":          "large-v3-turbo-q5",
}

// Lookup resolves a canonical name or alias, case-insensitively.
func Lookup(name string) (Preset, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = DefaultModel
	}
	if canonical, ok := aliases[key]; ok {
		key = canonical
	}
	for _, p := range presets {
		if p.Name == key {
			return p, true
		}
	}
	return Preset{}, false
}

// Presets returns the catalog sorted by name.
func Presets() []Preset {
	out := append([]Preset(nil), presets...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
