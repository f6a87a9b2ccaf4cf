package tnc

import "math"

// Resampler converts a stream of samples from one rate to another by linear
// interpolation.  The modems are narrow band and sit well below the Nyquist
// limit of any sound card rate, so nothing fancier is needed.
//
// State carries over between calls so a stream can be fed in blocks of any size.
type Resampler struct {
	from, to int
	step     float64 // Input samples per output sample.

	pos    float64 // Position of the next output sample, relative to the start of the next block.
	last   int16   // Final sample of the previous block, at position -1.
	primed bool
}

func NewResampler(from, to int) *Resampler {
	return &Resampler{ //nolint:exhaustruct
		from: from,
		to:   to,
		step: float64(from) / float64(to),
	}
}

// InputFor estimates how many input samples give n output samples.
func (r *Resampler) InputFor(n int) int {
	if r.from == r.to {
		return n
	}

	return int(math.Ceil(float64(n)*float64(r.from)/float64(r.to))) + 1
}

// Resample converts one block.
func (r *Resampler) Resample(in []int16) []int16 {
	return r.Append(nil, in)
}

// Append converts in and appends the result to dst.
func (r *Resampler) Append(dst []int16, in []int16) []int16 {
	if r.from == r.to {
		return append(dst, in...)
	}

	var n = len(in)
	if n == 0 {
		return dst
	}

	if !r.primed {
		r.last = in[0]
		r.pos = 0
		r.primed = true
	}

	var sample = func(i int) float64 {
		if i < 0 {
			return float64(r.last)
		}
		return float64(in[i])
	}

	var p = r.pos
	for p < float64(n-1) {
		var i = int(math.Floor(p))
		var frac = p - float64(i)
		var a, b = sample(i), sample(i + 1)
		dst = append(dst, int16(math.Round(a+(b-a)*frac)))
		p += r.step
	}

	r.pos = p - float64(n)
	r.last = in[n-1]

	return dst
}
