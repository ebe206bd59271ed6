package analytics

import "sync"

const subscriberBuffer = 64

// hub fans stored records out to live stream subscribers. Slow subscribers
// miss records rather than stall appends.
type hub struct {
	mu   sync.Mutex
	subs map[chan LoanEventRecord]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[chan LoanEventRecord]struct{})}
}

func (h *hub) subscribe() (<-chan LoanEventRecord, func()) {
	ch := make(chan LoanEventRecord, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *hub) publish(record LoanEventRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- record:
		default:
		}
	}
}

func (h *hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
