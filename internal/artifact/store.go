// Package artifact provides content-typed payload storage keyed by opaque id.
// Artifacts are immutable after creation; "updating" one means putting a new
// one and referencing the new id. Async tool modules reserve output slots up
// front and complete them when the work finishes.
package artifact

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"agenthive/internal/logging"
)

// Artifact store errors.
var (
	// ErrArtifactNotFound is returned for an unknown artifact id.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrArtifactComplete is returned when completing an artifact that is
	// not a reserved slot.
	ErrArtifactComplete = errors.New("artifact is not a reserved slot")
)

// Well-known artifact types. Free-form strings are accepted; these cover the
// common cases.
const (
	TypeJSON   = "json"
	TypeText   = "text"
	TypeBinary = "binary"
	TypeImage  = "image"
)

// Meta keys set by the store itself.
const (
	MetaReserved  = "reserved"  // "true" while the slot awaits content
	MetaExtension = "extension" // output placeholder extension hint
)

// Ref is an opaque reference to a stored artifact.
type Ref struct {
	ID string `json:"id"`
}

// Artifact is a typed payload with free-form metadata.
type Artifact struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Content   []byte            `json:"content"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Reserved reports whether the artifact is a pre-allocated output slot whose
// content is not yet final.
func (a Artifact) Reserved() bool {
	return a.Meta[MetaReserved] == "true"
}

// Store is the artifact persistence contract. Implementations must serialize
// concurrent Put calls sufficiently to guarantee unique ids.
type Store interface {
	// Put persists a new artifact and returns its reference.
	Put(typ string, content []byte, meta map[string]string) (Ref, error)

	// Get returns the artifact exactly as stored, or ErrArtifactNotFound.
	Get(ref Ref) (Artifact, error)

	// Reserve pre-allocates an output slot. The extension hint, if any,
	// is recorded in the slot's metadata.
	Reserve(ext string) (Ref, error)

	// Complete fills a reserved slot with its final type and content.
	Complete(id, typ string, content []byte) error
}

// MemoryStore is the in-process Store implementation.
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]Artifact
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{artifacts: make(map[string]Artifact)}
}

// Put persists a new artifact. Content and meta are copied so later caller
// mutations cannot break immutability.
func (s *MemoryStore) Put(typ string, content []byte, meta map[string]string) (Ref, error) {
	a := Artifact{
		ID:        uuid.NewString(),
		Type:      typ,
		Content:   append([]byte(nil), content...),
		Meta:      copyMeta(meta),
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.artifacts[a.ID] = a
	s.mu.Unlock()

	logging.ArtifactsDebug("Put: stored %s artifact %s (%d bytes)", typ, a.ID, len(content))
	return Ref{ID: a.ID}, nil
}

// Get returns the stored artifact byte-for-byte.
func (s *MemoryStore) Get(ref Ref) (Artifact, error) {
	s.mu.RLock()
	a, ok := s.artifacts[ref.ID]
	s.mu.RUnlock()
	if !ok {
		return Artifact{}, fmt.Errorf("%w: %s", ErrArtifactNotFound, ref.ID)
	}
	// Hand out copies; the canonical record stays untouched.
	a.Content = append([]byte(nil), a.Content...)
	a.Meta = copyMeta(a.Meta)
	return a, nil
}

// Reserve pre-allocates an output slot for async tool output.
func (s *MemoryStore) Reserve(ext string) (Ref, error) {
	meta := map[string]string{MetaReserved: "true"}
	if ext != "" {
		meta[MetaExtension] = ext
	}
	a := Artifact{
		ID:        uuid.NewString(),
		Type:      TypeBinary,
		Meta:      meta,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.artifacts[a.ID] = a
	s.mu.Unlock()

	logging.ArtifactsDebug("Reserve: slot %s (ext=%q)", a.ID, ext)
	return Ref{ID: a.ID}, nil
}

// Complete fills a reserved slot. The extension hint survives in metadata.
func (s *MemoryStore) Complete(id, typ string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.artifacts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrArtifactNotFound, id)
	}
	if !a.Reserved() {
		return fmt.Errorf("%w: %s", ErrArtifactComplete, id)
	}

	a.Type = typ
	a.Content = append([]byte(nil), content...)
	delete(a.Meta, MetaReserved)
	s.artifacts[id] = a

	logging.ArtifactsDebug("Complete: slot %s filled as %s (%d bytes)", id, typ, len(content))
	return nil
}

// Count returns the number of stored artifacts.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.artifacts)
}

func copyMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
