package audio

import "math"

// Normalize converts 16-bit PCM samples to floats in [-1, 1].
func Normalize(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// RMS computes the root-mean-square level of a sample block, normalized
// to [0, 1]. Used for voice-activity feedback, not for transcription.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
