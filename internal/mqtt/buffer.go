package mqtt

import "log/slog"

// bufferedMsg is a serialized message waiting for the broker to come back.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer keeps the most recent messages published while disconnected.
// Not safe for concurrent use; RealPublisher holds its mutex around it.
type ringBuffer struct {
	buf     []bufferedMsg
	head    int // next write position
	count   int
	dropped int // since last drain
	logger  *slog.Logger
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{
		buf:    make([]bufferedMsg, capacity),
		logger: slog.Default(),
	}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	capacity := len(r.buf)
	if r.count == capacity {
		if r.dropped == 0 {
			r.logger.Warn("mqtt buffer full, dropping oldest", "capacity", capacity)
		}
		r.dropped++
		// head already points at the oldest entry
		r.buf[r.head] = msg
		r.head = (r.head + 1) % capacity
		return
	}
	r.buf[r.head] = msg
	r.head = (r.head + 1) % capacity
	r.count++
}

// drainAll returns buffered messages oldest first and empties the buffer.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}
	capacity := len(r.buf)
	out := make([]bufferedMsg, r.count)
	start := (r.head - r.count + capacity) % capacity
	for i := range out {
		out[i] = r.buf[(start+i)%capacity]
	}
	r.count = 0
	r.head = 0
	r.dropped = 0
	return out
}

func (r *ringBuffer) len() int {
	return r.count
}
