package scheduler

// Window is a contiguous run of instrument indices that may wrap past the end.
type Window struct {
	Start int
	Size  int
}

// SelectBatch returns the window of min(batchSize, total) instruments starting
// at cursor mod total. A non-positive batch size selects one instrument.
func SelectBatch(total, batchSize, cursor int) Window {
	if total <= 0 {
		return Window{}
	}
	if batchSize < 1 {
		batchSize = 1
	}
	start := ((cursor % total) + total) % total
	return Window{Start: start, Size: min(batchSize, total)}
}

// Indices lists the window's instrument indices in order.
func (w Window) Indices(total int) []int {
	out := make([]int, w.Size)
	for i := range out {
		out[i] = (w.Start + i) % total
	}
	return out
}

// Next returns the cursor after processed members were attempted.
func (w Window) Next(processed, total int) int {
	if total <= 0 {
		return 0
	}
	return (w.Start + processed) % total
}

// Wraps reports whether the window runs past the last index.
func (w Window) Wraps(total int) bool {
	return w.Start+w.Size > total
}
