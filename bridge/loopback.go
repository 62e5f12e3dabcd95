package bridge

import "sync"

// Loopback is an in-process Endpoint that hands every delivery to a handler.
// With Duplicate set it delivers each message twice, which is how the tests
// exercise the at-least-once contract end to end.
type Loopback struct {
	mu        sync.Mutex
	handler   func(raw []byte) error
	Duplicate bool
	delivered int
}

func NewLoopback(handler func(raw []byte) error) *Loopback {
	return &Loopback{handler: handler}
}

func (l *Loopback) Deliver(raw []byte) error {
	l.mu.Lock()
	handler := l.handler
	duplicate := l.Duplicate
	l.delivered++
	l.mu.Unlock()
	if handler == nil {
		return nil
	}
	buf := make([]byte, len(raw))
	copy(buf, raw)
	if err := handler(buf); err != nil {
		return err
	}
	if duplicate {
		return handler(buf)
	}
	return nil
}

// Delivered reports how many sends reached the endpoint.
func (l *Loopback) Delivered() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.delivered
}
