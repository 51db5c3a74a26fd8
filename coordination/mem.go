package coordination

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pingcap/errors"
)

// MemStore is an in-process Store used by tests and single-node tooling.
// A single mutex serializes all mutations, so it is trivially linearizable.
type MemStore struct {
	mu       sync.Mutex
	nodes    map[string]*Node
	watchers []*memWatcher
	closed   bool

	// FailNext, when non-nil, is returned by a mutating call and then
	// cleared. FailAfter delays it by that many successful mutations first.
	// Tests use the pair to simulate connectivity loss at a chosen point.
	FailNext  error
	FailAfter int
}

type memWatcher struct {
	prefix string
	ch     chan Event
	done   <-chan struct{}
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{nodes: make(map[string]*Node)}
}

func (s *MemStore) takeFailure() error {
	if s.FailNext == nil {
		return nil
	}
	if s.FailAfter > 0 {
		s.FailAfter--
		return nil
	}
	err := s.FailNext
	s.FailNext = nil
	return err
}

// Create implements Store.
func (s *MemStore) Create(ctx context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if _, ok := s.nodes[path]; ok {
		return errors.Annotate(ErrNodeExists, path)
	}
	node := &Node{Path: path, Data: append([]byte(nil), data...), Version: 1}
	s.nodes[path] = node
	s.notify(Event{Type: EventPut, Node: *node})
	return nil
}

// Get implements Store.
func (s *MemStore) Get(ctx context.Context, path string) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[path]
	if !ok {
		return nil, errors.Annotate(ErrNodeNotFound, path)
	}
	cp := *node
	cp.Data = append([]byte(nil), node.Data...)
	return &cp, nil
}

// Update implements Store.
func (s *MemStore) Update(ctx context.Context, path string, data []byte, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	node, ok := s.nodes[path]
	if !ok {
		return errors.Annotate(ErrNodeNotFound, path)
	}
	if node.Version != version {
		return errors.Annotate(ErrVersionConflict, path)
	}
	node.Data = append([]byte(nil), data...)
	node.Version++
	s.notify(Event{Type: EventPut, Node: *node})
	return nil
}

// Delete implements Store.
func (s *MemStore) Delete(ctx context.Context, path string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	node, ok := s.nodes[path]
	if !ok {
		return nil
	}
	if version > 0 && node.Version != version {
		return errors.Annotate(ErrVersionConflict, path)
	}
	delete(s.nodes, path)
	s.notify(Event{Type: EventDelete, Node: *node})
	return nil
}

// List implements Store.
func (s *MemStore) List(ctx context.Context, prefix string) ([]*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var nodes []*Node
	for p, node := range s.nodes {
		if strings.HasPrefix(p, prefix) {
			cp := *node
			cp.Data = append([]byte(nil), node.Data...)
			nodes = append(nodes, &cp)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Path < nodes[j].Path })
	return nodes, nil
}

// DeletePrefix implements Store.
func (s *MemStore) DeletePrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	for p, node := range s.nodes {
		if strings.HasPrefix(p, prefix) {
			delete(s.nodes, p)
			s.notify(Event{Type: EventDelete, Node: *node})
		}
	}
	return nil
}

// Watch implements Store.
func (s *MemStore) Watch(ctx context.Context, prefix string) (<-chan Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := &memWatcher{prefix: prefix, ch: make(chan Event, 128), done: ctx.Done()}
	s.watchers = append(s.watchers, w)
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		for i, ww := range s.watchers {
			if ww == w {
				s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(w.ch)
	}()
	return w.ch, nil
}

// notify must be called with mu held.
func (s *MemStore) notify(ev Event) {
	for _, w := range s.watchers {
		if !strings.HasPrefix(ev.Node.Path, w.prefix) {
			continue
		}
		select {
		case w.ch <- ev:
		case <-w.done:
		default:
			// Slow watcher; events are best effort here.
		}
	}
}

// Close implements Store.
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
