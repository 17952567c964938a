package l3condition

// OddWindow normalises a window size: values below 1 become 1 and even
// values are incremented.
func OddWindow(size int) int {
	if size < 1 {
		return 1
	}
	if size%2 == 0 {
		return size + 1
	}
	return size
}

// MovingAverage returns the centred moving average of data over an odd
// window. Near the ends the window shrinks to the samples available, so the
// output has the same length as the input. Averages are truncated.
func MovingAverage(data []int64, window int) []int64 {
	window = OddWindow(window)
	out := make([]int64, len(data))
	if window == 1 {
		copy(out, data)
		return out
	}

	prefix := make([]int64, len(data)+1)
	for i, v := range data {
		prefix[i+1] = prefix[i] + v
	}

	half := window / 2
	for i := range data {
		lo, hi := i-half, i+half+1
		if lo < 0 {
			lo = 0
		}
		if hi > len(data) {
			hi = len(data)
		}
		out[i] = (prefix[hi] - prefix[lo]) / int64(hi-lo)
	}
	return out
}
