package metrics

// window is a fixed-capacity ring of recent observations. Callers hold the
// collector lock; the type itself is not synchronized.
type window struct {
	buf   []float64
	start int
	count int
}

func newWindow(capacity int) *window {
	return &window{buf: make([]float64, capacity)}
}

// push appends an observation, evicting the oldest once full.
func (w *window) push(v float64) {
	if w.count < len(w.buf) {
		w.buf[(w.start+w.count)%len(w.buf)] = v
		w.count++
		return
	}
	w.buf[w.start] = v
	w.start = (w.start + 1) % len(w.buf)
}

// mean is 0 for an empty window.
func (w *window) mean() float64 {
	if w.count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < w.count; i++ {
		sum += w.buf[(w.start+i)%len(w.buf)]
	}
	return sum / float64(w.count)
}
