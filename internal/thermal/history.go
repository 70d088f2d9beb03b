package thermal

import "time"

// history is a fixed-capacity ring of samples; the oldest sample is evicted
// when full. It is not safe for concurrent use.
type history struct {
	buf   []Sample
	start int
	n     int
}

func newHistory(capacity int) *history {
	if capacity < 1 {
		capacity = 1
	}
	return &history{buf: make([]Sample, capacity)}
}

func (h *history) add(s Sample) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = s
		h.n++
		return
	}
	h.buf[h.start] = s
	h.start = (h.start + 1) % len(h.buf)
}

func (h *history) len() int { return h.n }

func (h *history) at(i int) Sample {
	return h.buf[(h.start+i)%len(h.buf)]
}

// since returns samples taken at or after cutoff, oldest first.
func (h *history) since(cutoff time.Time) []Sample {
	out := make([]Sample, 0, h.n)
	for i := range h.n {
		if s := h.at(i); !s.Time.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

func (h *history) average() float64 {
	if h.n == 0 {
		return 0
	}
	var sum float64
	for i := range h.n {
		sum += h.at(i).Temperature
	}
	return sum / float64(h.n)
}
