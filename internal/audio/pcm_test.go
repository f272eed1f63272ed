package audio

import (
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	out := Normalize([]int16{0, 16384, -32768})
	want := []float32{0, 0.5, -1}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("sample %d = %f, want %f", i, out[i], want[i])
		}
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Fatalf("rms of empty = %f", got)
	}
	if got := RMS(make([]int16, 100)); got != 0 {
		t.Fatalf("rms of silence = %f", got)
	}

	samples := make([]int16, 16000)
	for i := range samples {
		samples[i] = int16(32767 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	got := RMS(samples)
	if math.Abs(got-1/math.Sqrt2) > 0.01 {
		t.Fatalf("rms of full-scale sine = %f, want ~0.707", got)
	}
}
