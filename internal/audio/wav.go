package audio

import (
	"fmt"
	"os"
	"path/filepath"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV persists mono 16-bit PCM at the given rate. The file appears
// atomically: content is written to a temp file in the same directory and
// renamed into place, so a reader never observes a half-written take.
func WriteWAV(path string, samples []int16, sampleRate int) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(dir, ".murmur_rec_*.wav")
	if err != nil {
		return fmt.Errorf("temp wav file: %w", err)
	}
	defer os.Remove(tmp.Name())

	buffer := &gaudio.IntBuffer{
		Format: &gaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:   make([]int, len(samples)),
	}
	for i, s := range samples {
		buffer.Data[i] = int(s)
	}

	enc := wav.NewEncoder(tmp, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		tmp.Close()
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("close wav encoder: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp wav: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename wav into place: %w", err)
	}
	return nil
}

// ReadWAV decodes a WAV file into normalized mono float samples. Stereo
// input is downmixed by averaging channels; the sample rate must match
// the engine's 16 kHz contract.
func ReadWAV(path string, sampleRate int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("not a valid wav file: %s", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if int(dec.SampleRate) != sampleRate {
		return nil, fmt.Errorf("wav sample rate %d, want %d", dec.SampleRate, sampleRate)
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	scale := float32(int(1) << (dec.BitDepth - 1))
	frames := len(buf.Data) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c]) / scale
		}
		out[i] = sum / float32(channels)
	}
	return out, nil
}
