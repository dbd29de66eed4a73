package ctc

import "math"

// Score returns the mean of the per-step maximum probability over every step
// whose most probable class is not blank, or 0 when all steps are blank.
//
// Steps are counted before repeats collapse: a character held across many
// frames contributes one sample per frame, not one per decoded character.
func Score(m ProbabilityMatrix, blank int) float64 {
	var sum float64
	n := 0
	for t := 0; t < m.Steps; t++ {
		idx, p := argmax(m.Row(t))
		if idx == blank {
			continue
		}
		sum += float64(p)
		n++
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	switch {
	case math.IsNaN(mean) || mean < 0:
		return 0
	case mean > 1:
		return 1
	}
	return mean
}
