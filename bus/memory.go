package bus

import (
	"sync"
	"sync/atomic"
)

// MemoryBus delivers within one process. The indexer and the task log share
// it when they run in the same binary.
type MemoryBus struct {
	bufferSize int
	dropped    atomic.Uint64

	mu     sync.RWMutex
	topics map[string]map[*memorySub]struct{}
	closed bool
}

// NewMemoryBus returns an open bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultConfig().BufferSize
	}
	return &MemoryBus{
		bufferSize: size,
		topics:     make(map[string]map[*memorySub]struct{}),
	}
}

// Publish copies data to each subscriber of subject.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for sub := range b.topics[subject] {
		select {
		case sub.ch <- &Message{Subject: subject, Data: append([]byte(nil), data...)}:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &memorySub{bus: b, subject: subject, ch: make(chan *Message, b.bufferSize)}
	if b.topics[subject] == nil {
		b.topics[subject] = make(map[*memorySub]struct{})
	}
	b.topics[subject][sub] = struct{}{}
	return sub, nil
}

// Dropped counts messages lost to full subscriber buffers.
func (b *MemoryBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close ends every subscription. Later calls are no-ops.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for subject, subs := range b.topics {
		for sub := range subs {
			b.detach(subject, sub)
		}
	}
	return nil
}

// detach closes sub's channel once. b.mu must be held for writing.
func (b *MemoryBus) detach(subject string, sub *memorySub) {
	subs, ok := b.topics[subject]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.topics, subject)
	}
	close(sub.ch)
}

type memorySub struct {
	bus     *MemoryBus
	subject string
	ch      chan *Message
}

func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.bus.detach(s.subject, s)
	return nil
}
