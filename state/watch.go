package state

import (
	"context"
	"strings"
	"sync"
)

// watchHub fans committed changes out to prefix watchers for the backends
// that have no native change feed.
type watchHub struct {
	mu     sync.Mutex
	subs   map[*hubWatch]struct{}
	closed bool
	quit   chan struct{}
}

type hubWatch struct {
	prefix string
	ch     chan *Entry
}

func newWatchHub() *watchHub {
	return &watchHub{
		subs: make(map[*hubWatch]struct{}),
		quit: make(chan struct{}),
	}
}

// watch registers a watcher that lives until ctx ends or the hub closes.
func (h *watchHub) watch(ctx context.Context, prefix string) (<-chan *Entry, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	w := &hubWatch{prefix: prefix, ch: make(chan *Entry, 64)}
	h.subs[w] = struct{}{}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-h.quit:
		}
		h.drop(w)
	}()
	return w.ch, nil
}

func (h *watchHub) drop(w *hubWatch) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[w]; ok {
		delete(h.subs, w)
		close(w.ch)
	}
}

// publish offers e to matching watchers. Full buffers miss it.
func (h *watchHub) publish(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.subs {
		if !strings.HasPrefix(e.Key, w.prefix) {
			continue
		}
		select {
		case w.ch <- e.clone():
		default:
		}
	}
}

// close ends every watch and refuses new ones.
func (h *watchHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.quit)
	for w := range h.subs {
		delete(h.subs, w)
		close(w.ch)
	}
}

func (e Entry) clone() *Entry {
	if e.Value != nil {
		e.Value = append([]byte(nil), e.Value...)
	}
	return &e
}
