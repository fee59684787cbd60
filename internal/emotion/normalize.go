package emotion

import "math"

// Sharpening multiplies raw scores before exponentiation so the strongest
// emotion dominates the distribution.
const Sharpening = 10.0

// Normalize converts raw scores into a sharpened softmax distribution rounded
// to 3 decimals. Rounded values may sum to slightly more or less than 1.
func Normalize(raw Scores) Scores {
	shares := distribution(raw)
	out := make(Scores, len(shares))
	for l, v := range shares {
		out[l] = round3(v)
	}
	return out
}

// distribution is the unrounded softmax of raw*Sharpening. The maximum is
// subtracted first, which leaves the ratios unchanged and keeps exp finite.
func distribution(raw Scores) Scores {
	out := make(Scores, len(raw))
	if len(raw) == 0 {
		return out
	}

	peak := math.Inf(-1)
	for _, v := range raw {
		if v > peak {
			peak = v
		}
	}

	var total float64
	for l, v := range raw {
		e := math.Exp((v - peak) * Sharpening)
		out[l] = e
		total += e
	}
	for l, e := range out {
		out[l] = e / total
	}
	return out
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
