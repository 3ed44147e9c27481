// Package speaker resolves raw diarization labels to durable speaker ids.
package speaker

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrEmptyLabel is returned when resolving a blank label.
var ErrEmptyLabel = errors.New("speaker: empty label")

// Registry maps an engine label such as "SPEAKER_00" to a speaker id that is
// stable for the given scope (usually the recording).
type Registry interface {
	Resolve(ctx context.Context, label, scope string) (string, error)
}

// MemoryRegistry is an in-process Registry.
type MemoryRegistry struct {
	mu  sync.Mutex
	ids map[string]map[string]string
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{ids: make(map[string]map[string]string)}
}

// Resolve returns the id for label within scope, allocating one on first use.
func (r *MemoryRegistry) Resolve(ctx context.Context, label, scope string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return "", ErrEmptyLabel
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byLabel, ok := r.ids[scope]
	if !ok {
		byLabel = make(map[string]string)
		r.ids[scope] = byLabel
	}
	if id, ok := byLabel[label]; ok {
		return id, nil
	}
	id := "spk_" + uuid.NewString()
	byLabel[label] = id
	return id, nil
}

// Speakers returns the label to id mapping for scope.
func (r *MemoryRegistry) Speakers(scope string) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.ids[scope]))
	for k, v := range r.ids[scope] {
		out[k] = v
	}
	return out
}

// Forget drops everything known about scope.
func (r *MemoryRegistry) Forget(scope string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ids, scope)
}

// RegistryFunc adapts a function to Registry.
type RegistryFunc func(ctx context.Context, label, scope string) (string, error)

// Resolve calls f.
func (f RegistryFunc) Resolve(ctx context.Context, label, scope string) (string, error) {
	return f(ctx, label, scope)
}
