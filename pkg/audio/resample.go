package audio

import "math"

// Upsample8kTo24k resamples mono PCM16 from 8 kHz to 24 kHz by linear
// interpolation. For source samples s0…sN-1 it emits, per sample i < N-1, the
// triple (si, round((2si+si+1)/3), round((si+2si+1)/3)); the final sample is
// repeated three times. len(out) == 3*len(in).
func Upsample8kTo24k(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	out := make([]int16, 3*len(in))
	for i := 0; i < len(in)-1; i++ {
		s0, s1 := float64(in[i]), float64(in[i+1])
		out[3*i] = in[i]
		out[3*i+1] = int16(math.Round((2*s0 + s1) / 3))
		out[3*i+2] = int16(math.Round((s0 + 2*s1) / 3))
	}
	last := in[len(in)-1]
	n := len(out)
	out[n-3], out[n-2], out[n-1] = last, last, last
	return out
}

// Downsample24kTo8k resamples mono PCM16 from 24 kHz to 8 kHz by decimation,
// selecting every third sample starting at index 0. A trailing remainder of
// fewer than three samples is discarded, so len(out) == len(in)/3.
func Downsample24kTo8k(in []int16) []int16 {
	n := len(in) / 3
	if n == 0 {
		return nil
	}
	out := make([]int16, n)
	for i := range out {
		out[i] = in[3*i]
	}
	return out
}
