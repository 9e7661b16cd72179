package messaging

import (
	"context"
	"fmt"
)

// BufStore is a fixed set of equally sized message buffers shared by all
// calls. Taking a buffer blocks while all of them are in use.
type BufStore struct {
	size int
	bufs chan []byte
}

func NewBufStore(count, size int) *BufStore {
	s := &BufStore{
		size: size,
		bufs: make(chan []byte, count),
	}

	for i := 0; i < count; i++ {
		s.bufs <- make([]byte, size)
	}

	return s
}

func (s *BufStore) Size() int {
	return s.size
}

func (s *BufStore) Available() int {
	return len(s.bufs)
}

func (s *BufStore) Get(ctx context.Context) ([]byte, error) {
	select {
	case buf := <-s.bufs:
		return buf, nil
	default:
	}

	select {
	case buf := <-s.bufs:
		return buf, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for message buffer: %v", ErrInterrupted, ctx.Err())
	}
}

func (s *BufStore) Put(buf []byte) {
	s.bufs <- buf[:s.size]
}
