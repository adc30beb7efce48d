package market

import "time"

// Sample is one retained history entry for an instrument.
type Sample struct {
	Time   time.Time
	Price  float64
	Volume float64
}

// History is a fixed-capacity ring of price samples in chronological
// order. Appending beyond capacity evicts the oldest sample. History is
// not safe for concurrent use; the quote bus guards it.
type History struct {
	samples []Sample
	head    int // index of the oldest sample
	count   int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{samples: make([]Sample, capacity)}
}

func (h *History) Len() int { return h.count }

func (h *History) Cap() int { return len(h.samples) }

// Append adds a sample, evicting the oldest if the ring is full.
func (h *History) Append(s Sample) {
	if h.count < len(h.samples) {
		h.samples[(h.head+h.count)%len(h.samples)] = s
		h.count++
		return
	}
	h.samples[h.head] = s
	h.head = (h.head + 1) % len(h.samples)
}

// Samples returns the retained samples oldest-first.
func (h *History) Samples() []Sample {
	out := make([]Sample, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.samples[(h.head+i)%len(h.samples)]
	}
	return out
}

// Since returns the samples with Time >= cutoff, oldest-first.
func (h *History) Since(cutoff time.Time) []Sample {
	var out []Sample
	for i := 0; i < h.count; i++ {
		s := h.samples[(h.head+i)%len(h.samples)]
		if !s.Time.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}
