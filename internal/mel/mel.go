// Package mel computes normalized log-mel spectrogram features, the fixed
// input format of the transcription engine.
//
// The parameters are a hard contract with the engine's input tensor and
// must not drift:
//
//	SampleRate: 16000
//	FFTSize:    400 (25 ms Hann window)
//	HopLength:  160 (10 ms)
//	NumBands:   80
//	Window:     30 s for whole-file transcription
package mel

import (
	"math"
	"runtime"
	"sync"

	"github.com/murmurlabs/murmur-core/internal/vocab"
)

const (
	SampleRate = 16000
	FFTSize    = 400
	HopLength  = 160
	NumBands   = 80

	// WindowSeconds is the fixed file-transcription window. Shorter inputs
	// are zero-padded, longer inputs truncated.
	WindowSeconds = 30
	WindowSamples = WindowSeconds * SampleRate

	halfBins = FFTSize/2 + 1 // one-sided spectrum, Nyquist counted once
)

// Spectrogram is a dense NMel x NLen matrix of normalized log-mel values,
// stored row-major by mel band.
type Spectrogram struct {
	NMel int
	NLen int
	Data []float32
}

// At returns the value for mel band m at frame t.
func (s *Spectrogram) At(m, t int) float32 {
	return s.Data[m*s.NLen+t]
}

// Extractor turns PCM samples into spectrograms using the filter bank
// loaded with the vocabulary. Safe for concurrent use; Compute allocates
// all working state per call.
type Extractor struct {
	filters *vocab.FilterBank
	window  []float32
}

// New builds an extractor around a loaded filter bank. The bank must have
// NumBands rows of halfBins coefficients.
func New(filters *vocab.FilterBank) *Extractor {
	window := make([]float32, FFTSize)
	for i := range window {
		window[i] = float32(0.5 * (1 - math.Cos(2*math.Pi*float64(i)/FFTSize)))
	}
	return &Extractor{filters: filters, window: window}
}

// FixedWindow pads or truncates samples to the 30 second file window.
func FixedWindow(samples []float32) []float32 {
	out := make([]float32, WindowSamples)
	copy(out, samples)
	return out
}

// Compute extracts the spectrogram for samples, striping frames across
// parallelism workers. parallelism <= 0 uses the available CPUs. All
// workers join before the normalization pass scans the buffer.
func (e *Extractor) Compute(samples []float32, parallelism int) *Spectrogram {
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	frames := len(samples) / HopLength
	out := &Spectrogram{
		NMel: e.filters.NMel,
		NLen: frames,
		Data: make([]float32, e.filters.NMel*frames),
	}
	if frames == 0 {
		return out
	}
	if parallelism > frames {
		parallelism = frames
	}

	var wg sync.WaitGroup
	for w := 0; w < parallelism; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			frame := make([]float32, FFTSize)
			// Modulo striping: worker w owns frames w, w+p, w+2p, ...
			for t := w; t < frames; t += parallelism {
				e.computeFrame(samples, t, frame, out)
			}
		}(w)
	}
	wg.Wait()

	normalize(out.Data)
	return out
}

func (e *Extractor) computeFrame(samples []float32, t int, frame []float32, out *Spectrogram) {
	offset := t * HopLength
	for i := 0; i < FFTSize; i++ {
		if offset+i < len(samples) {
			frame[i] = e.window[i] * samples[offset+i]
		} else {
			frame[i] = 0
		}
	}

	spectrum := fft(frame)

	power := make([]float32, halfBins)
	for i := 0; i < halfBins; i++ {
		re := spectrum[2*i]
		im := spectrum[2*i+1]
		power[i] = re*re + im*im
	}
	// Fold the mirrored upper half onto bins 1..FFTSize/2-1.
	for i := 1; i < FFTSize/2; i++ {
		re := spectrum[2*(FFTSize-i)]
		im := spectrum[2*(FFTSize-i)+1]
		power[i] += re*re + im*im
	}

	for m := 0; m < out.NMel; m++ {
		row := e.filters.Row(m)
		var sum float64
		for i := 0; i < halfBins && i < len(row); i++ {
			sum += float64(power[i]) * float64(row[i])
		}
		if sum < 1e-10 {
			sum = 1e-10
		}
		out.Data[m*out.NLen+t] = float32(math.Log10(sum))
	}
}

// normalize clamps the dynamic range to 8 log-decades below the peak and
// rescales into the bounded range the engine expects.
func normalize(data []float32) {
	mmax := float32(math.Inf(-1))
	for _, v := range data {
		if v > mmax {
			mmax = v
		}
	}
	floor := mmax - 8
	for i, v := range data {
		if v < floor {
			v = floor
		}
		data[i] = (v + 4) / 4
	}
}
