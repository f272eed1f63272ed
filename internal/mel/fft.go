package mel

import "math"

// fft transforms a real-valued frame into interleaved real/imaginary pairs
// of length 2*len(in). Even lengths recurse on the even/odd split; odd
// lengths fall back to the direct transform, which keeps the routine
// correct for arbitrary frame sizes.
func fft(in []float32) []float32 {
	n := len(in)
	out := make([]float32, 2*n)
	if n == 1 {
		out[0] = in[0]
		return out
	}
	if n%2 == 1 {
		dft(in, out)
		return out
	}

	even := make([]float32, n/2)
	odd := make([]float32, n/2)
	for i := 0; i < n/2; i++ {
		even[i] = in[2*i]
		odd[i] = in[2*i+1]
	}
	evenFFT := fft(even)
	oddFFT := fft(odd)

	for k := 0; k < n/2; k++ {
		theta := -2 * math.Pi * float64(k) / float64(n)
		re := float32(math.Cos(theta))
		im := float32(math.Sin(theta))

		reOdd := oddFFT[2*k]
		imOdd := oddFFT[2*k+1]

		out[2*k] = evenFFT[2*k] + re*reOdd - im*imOdd
		out[2*k+1] = evenFFT[2*k+1] + re*imOdd + im*reOdd

		out[2*(k+n/2)] = evenFFT[2*k] - re*reOdd + im*imOdd
		out[2*(k+n/2)+1] = evenFFT[2*k+1] - re*imOdd - im*reOdd
	}
	return out
}

// dft is the O(n^2) direct discrete Fourier transform used once the
// recursion reaches an odd length.
func dft(in []float32, out []float32) {
	n := len(in)
	for k := 0; k < n; k++ {
		var re, im float64
		for i := 0; i < n; i++ {
			theta := -2 * math.Pi * float64(k*i) / float64(n)
			re += float64(in[i]) * math.Cos(theta)
			im += float64(in[i]) * math.Sin(theta)
		}
		out[2*k] = float32(re)
		out[2*k+1] = float32(im)
	}
}
