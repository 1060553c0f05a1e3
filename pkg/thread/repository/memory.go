package repository

import (
	"context"
	"sync"

	"github.com/openthread/engine/pkg/thread/types"
)

// Memory is an in-process Repository fake, playing the same role for
// this engine's tests that the teacher's test.TestInvoker plays for its
// Unity tests: a dependency-free stand-in for the real transport.
type Memory struct {
	mu    sync.RWMutex
	docs  map[string]Publication
	subs  map[types.PeerURI][]chan Meta
}

// NewMemory returns an empty Memory repository.
func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string]Publication),
		subs: make(map[types.PeerURI][]chan Meta),
	}
}

func (m *Memory) Fetch(_ context.Context, name types.DocumentName) (Publication, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pub, ok := m.docs[name.Path()]
	if !ok {
		return Publication{}, ErrNotFound{Name: name}
	}
	return pub, nil
}

func (m *Memory) Publish(_ context.Context, pub Publication, readers []types.PeerURI) error {
	m.mu.Lock()
	m.docs[pub.Name.Path()] = pub
	var notify []chan Meta
	for _, reader := range readers {
		notify = append(notify, m.subs[reader]...)
	}
	m.mu.Unlock()

	meta := Meta{Name: pub.Name, Version: pub.Version}
	for _, ch := range notify {
		select {
		case ch <- meta:
		default:
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, peer types.PeerURI) (<-chan Meta, func(), error) {
	ch := make(chan Meta, 32)
	m.mu.Lock()
	m.subs[peer] = append(m.subs[peer], ch)
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.subs[peer]
		for i, c := range list {
			if c == ch {
				m.subs[peer] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel, nil
}
