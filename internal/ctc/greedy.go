package ctc

// DecodeGreedy performs best-path decoding: it takes the most probable class
// at every step (lowest index on ties), collapses consecutive repeats and
// drops the blank class. The result keeps time order and is never nil.
//
// A repeat separated by a blank survives as two symbols, so [a, blank, a]
// decodes to [a, a] while [a, a] decodes to [a].
func DecodeGreedy(m ProbabilityMatrix, blank int) []int {
	out := make([]int, 0, m.Steps)
	prev := -1
	for t := 0; t < m.Steps; t++ {
		idx, _ := argmax(m.Row(t))
		if idx != prev && idx != blank {
			out = append(out, idx)
		}
		prev = idx
	}
	return out
}

// BestPath returns the raw per-step argmax sequence before collapsing.
func BestPath(m ProbabilityMatrix) []int {
	path := make([]int, m.Steps)
	for t := range path {
		path[t], _ = argmax(m.Row(t))
	}
	return path
}
