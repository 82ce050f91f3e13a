// Package format dispatches catalog documents to the adapter for their
// format.
package format

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/erp/catalog-exchange/internal/domain/catalog"
	"github.com/erp/catalog-exchange/internal/domain/shared"
)

const (
	// DetectWindow is the number of leading bytes inspected for detection
	DetectWindow = 1024

	// ConfidenceThreshold is the lowest score accepted without a filename hint
	ConfidenceThreshold catalog.Confidence = 50
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ErrDuplicateFormat is returned when two adapters share an id
var ErrDuplicateFormat = shared.NewDomainError("DUPLICATE_FORMAT", "format is already registered")

// Registry is a read-mostly lookup of adapters, safe for concurrent use
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]catalog.Adapter
	order    []string
	fallback map[string]string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]catalog.Adapter),
		fallback: make(map[string]string),
	}
}

// Register adds an adapter. Its extensions become filename fallbacks unless
// an earlier adapter already claimed them.
func (r *Registry) Register(adapter catalog.Adapter) error {
	info := adapter.Info()
	id := strings.ToLower(info.ID)
	if id == "" {
		return fmt.Errorf("%w: adapter without id", shared.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateFormat, id)
	}
	r.adapters[id] = adapter
	r.order = append(r.order, id)
	for _, ext := range info.Extensions {
		ext = strings.ToLower(ext)
		if _, claimed := r.fallback[ext]; !claimed {
			r.fallback[ext] = id
		}
	}
	return nil
}

// MustRegister registers adapters and panics on error
func (r *Registry) MustRegister(adapters ...catalog.Adapter) *Registry {
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
	return r
}

// Get returns the adapter for a format id, case-insensitively
func (r *Registry) Get(id string) (catalog.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(id))]
	return a, ok
}

// All returns the registered formats sorted by id
func (r *Registry) All() []catalog.FormatInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]catalog.FormatInfo, 0, len(r.adapters))
	for _, a := range r.adapters {
		infos = append(infos, a.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Detect scores the head of a document with every adapter. The best score
// wins when it reaches ConfidenceThreshold. Otherwise the filename extension
// decides, provided its adapter did not rule the content out.
func (r *Registry) Detect(head []byte, filename string) (catalog.Adapter, bool) {
	head = bytes.TrimPrefix(head, utf8BOM)
	if len(head) > DetectWindow {
		head = head[:DetectWindow]
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best catalog.Adapter
	bestScore := catalog.ConfidenceNone
	scores := make(map[string]catalog.Confidence, len(r.order))
	for _, id := range r.order {
		a := r.adapters[id]
		score := a.Detect(head, filename)
		scores[id] = score
		if score > bestScore {
			best, bestScore = a, score
		}
	}
	if best != nil && bestScore >= ConfidenceThreshold {
		return best, true
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return nil, false
	}
	id, ok := r.fallback[ext]
	if !ok {
		return nil, false
	}
	if len(bytes.TrimSpace(head)) == 0 || scores[id] > catalog.ConfidenceNone {
		return r.adapters[id], true
	}
	return nil, false
}

// Resolve returns the explicitly named adapter, or detects one. An explicit
// format always short-circuits detection.
func (r *Registry) Resolve(explicit string, head []byte, filename string) (catalog.Adapter, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		a, ok := r.Get(explicit)
		if !ok {
			return nil, fmt.Errorf("%w: %s", catalog.ErrUnknownFormat, explicit)
		}
		return a, nil
	}
	a, ok := r.Detect(head, filename)
	if !ok {
		return nil, catalog.ErrFormatNotDetected
	}
	return a, nil
}
