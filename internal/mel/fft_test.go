package mel

import (
	"math"
	"testing"
)

// sineFrame produces a pure sine at FFT bin k of an n-point frame.
func sineFrame(n, k int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(math.Sin(2 * math.Pi * float64(k*i) / float64(n)))
	}
	return out
}

func powerAt(spectrum []float32, bin int) float64 {
	re := float64(spectrum[2*bin])
	im := float64(spectrum[2*bin+1])
	return re*re + im*im
}

func checkSineConcentration(t *testing.T, n, k int) {
	t.Helper()
	spectrum := fft(sineFrame(n, k))

	var total float64
	for bin := 0; bin < n; bin++ {
		total += powerAt(spectrum, bin)
	}
	peak := powerAt(spectrum, k) + powerAt(spectrum, n-k)
	if total == 0 {
		t.Fatalf("n=%d k=%d: zero spectrum", n, k)
	}
	if ratio := peak / total; ratio < 0.999 {
		t.Fatalf("n=%d k=%d: power not concentrated at bin, ratio=%f", n, k, ratio)
	}
	// A unit sine of length n carries n^2/4 power in each of the two bins.
	want := float64(n) * float64(n) / 4
	if got := powerAt(spectrum, k); math.Abs(got-want) > want*1e-4 {
		t.Fatalf("n=%d k=%d: bin power %f, want %f", n, k, got, want)
	}
}

func TestFFTSinePowerOfTwo(t *testing.T) {
	checkSineConcentration(t, 8, 1)
	checkSineConcentration(t, 256, 31)
}

func TestFFTSineNonPowerOfTwo(t *testing.T) {
	checkSineConcentration(t, 12, 2)
	checkSineConcentration(t, 400, 50)
}

func TestFFTDC(t *testing.T) {
	in := make([]float32, 16)
	for i := range in {
		in[i] = 1
	}
	spectrum := fft(in)
	if math.Abs(float64(spectrum[0])-16) > 1e-4 {
		t.Fatalf("DC bin = %f, want 16", spectrum[0])
	}
	for bin := 1; bin < 16; bin++ {
		if p := powerAt(spectrum, bin); p > 1e-6 {
			t.Fatalf("bin %d power %f, want 0", bin, p)
		}
	}
}

func TestFFTMatchesDFT(t *testing.T) {
	in := sineFrame(64, 5)
	for i := range in {
		in[i] += float32(0.25 * math.Cos(2*math.Pi*11*float64(i)/64))
	}
	fast := fft(in)
	direct := make([]float32, 2*len(in))
	dft(in, direct)
	for i := range fast {
		if math.Abs(float64(fast[i]-direct[i])) > 1e-2 {
			t.Fatalf("fft/dft mismatch at %d: %f vs %f", i, fast[i], direct[i])
		}
	}
}
