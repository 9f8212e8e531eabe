package usecase

import (
	"sync"

	"github.com/google/uuid"
)

// Registry tracks live login streams by session id. One instance is shared
// by the orchestrator and the HTTP layer.
type Registry struct {
	mu      sync.Mutex
	streams map[string]*LoginStream
}

func NewRegistry() *Registry {
	return &Registry{streams: map[string]*LoginStream{}}
}

func (r *Registry) Add(s *LoginStream) string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	s.ID = id
	r.streams[id] = s
	return id
}

func (r *Registry) Get(id string) (*LoginStream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[id]
	return s, ok
}

// Remove is idempotent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, id)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}
