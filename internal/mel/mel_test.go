package mel

import (
	"math"
	"testing"

	"github.com/murmurlabs/murmur-core/internal/vocab"
)

// testFilters builds a small triangular filter bank covering the
// one-sided spectrum, enough to exercise the projection.
func testFilters(nMel int) *vocab.FilterBank {
	fb := &vocab.FilterBank{NMel: nMel, NFFT: halfBins, Data: make([]float32, nMel*halfBins)}
	width := halfBins / nMel
	for m := 0; m < nMel; m++ {
		for i := 0; i < width; i++ {
			fb.Data[m*halfBins+m*width+i] = 1.0 / float32(width)
		}
	}
	return fb
}

func sineSamples(n int, freq float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/SampleRate))
	}
	return out
}

func TestComputeShape(t *testing.T) {
	ext := New(testFilters(8))
	samples := sineSamples(SampleRate, 440) // 1 second
	spg := ext.Compute(samples, 2)
	if spg.NMel != 8 {
		t.Fatalf("NMel = %d, want 8", spg.NMel)
	}
	if want := SampleRate / HopLength; spg.NLen != want {
		t.Fatalf("NLen = %d, want %d", spg.NLen, want)
	}
	if len(spg.Data) != spg.NMel*spg.NLen {
		t.Fatalf("data length %d, want %d", len(spg.Data), spg.NMel*spg.NLen)
	}
}

func TestComputeNormalizationBound(t *testing.T) {
	ext := New(testFilters(8))
	samples := sineSamples(SampleRate/2, 1000)
	spg := ext.Compute(samples, 4)

	mmax := float32(math.Inf(-1))
	for _, v := range spg.Data {
		if v > mmax {
			mmax = v
		}
	}
	// Output is (log + 4) / 4 with the log clamped to 8 decades below the
	// peak, so the span of the whole buffer is at most 8/4.
	low := mmax - 2
	for i, v := range spg.Data {
		if v < low-1e-6 {
			t.Fatalf("value %d = %f below clamp floor %f", i, v, low)
		}
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("value %d not finite: %f", i, v)
		}
	}
}

func TestComputeParallelismInvariant(t *testing.T) {
	ext := New(testFilters(8))
	samples := sineSamples(SampleRate, 440)
	one := ext.Compute(samples, 1)
	four := ext.Compute(samples, 4)
	many := ext.Compute(samples, 33) // more workers than useful

	for i := range one.Data {
		if one.Data[i] != four.Data[i] || one.Data[i] != many.Data[i] {
			t.Fatalf("parallelism changed result at %d: %f %f %f",
				i, one.Data[i], four.Data[i], many.Data[i])
		}
	}
}

func TestComputeZeroPadsTail(t *testing.T) {
	ext := New(testFilters(4))
	// 2.5 hops of data: the final frame reads past the input and must be
	// zero padded rather than panic.
	samples := sineSamples(HopLength*2+HopLength/2, 440)
	spg := ext.Compute(samples, 1)
	if spg.NLen != 2 {
		t.Fatalf("NLen = %d, want 2", spg.NLen)
	}
}

func TestFixedWindow(t *testing.T) {
	short := FixedWindow(make([]float32, 100))
	if len(short) != WindowSamples {
		t.Fatalf("short window len %d, want %d", len(short), WindowSamples)
	}
	long := make([]float32, WindowSamples+5000)
	for i := range long {
		long[i] = 1
	}
	fixed := FixedWindow(long)
	if len(fixed) != WindowSamples {
		t.Fatalf("long window len %d, want %d", len(fixed), WindowSamples)
	}
	if fixed[WindowSamples-1] != 1 {
		t.Fatal("window content lost on truncation")
	}
}
