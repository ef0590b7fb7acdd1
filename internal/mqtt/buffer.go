package mqtt

// bufferedMsg is a serialized message waiting for the broker to come back.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer holds the newest messages published while offline. Once full,
// each push evicts the oldest entry.
// Callers synchronize access.
type ringBuffer struct {
	slots   []bufferedMsg
	start   int // oldest entry
	size    int
	dropped int // evictions since the last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{slots: make([]bufferedMsg, capacity)}
}

// push stores msg and reports whether this push was the first eviction since
// the last drain.
func (r *ringBuffer) push(msg bufferedMsg) bool {
	n := len(r.slots)
	if r.size < n {
		r.slots[(r.start+r.size)%n] = msg
		r.size++
		return false
	}
	r.slots[r.start] = msg
	r.start = (r.start + 1) % n
	r.dropped++
	return r.dropped == 1
}

// drainAll empties the buffer, returning its messages oldest first and how
// many were evicted while they waited.
func (r *ringBuffer) drainAll() ([]bufferedMsg, int) {
	dropped := r.dropped
	if r.size == 0 {
		r.dropped = 0
		return nil, dropped
	}
	out := make([]bufferedMsg, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.slots[(r.start+i)%len(r.slots)])
	}
	clear(r.slots)
	r.start, r.size, r.dropped = 0, 0, 0
	return out, dropped
}

func (r *ringBuffer) len() int {
	return r.size
}
