package middleware

import "sync"

// PublicPaths is the set of request paths that bypass authentication, such as
// health probes. A nil *PublicPaths contains nothing.
type PublicPaths struct {
	mutex sync.RWMutex
	paths map[string]struct{}
}

// NewPublicPaths creates a set holding paths.
func NewPublicPaths(paths ...string) *PublicPaths {
	p := &PublicPaths{paths: make(map[string]struct{}, len(paths))}

	for _, path := range paths {
		p.paths[path] = struct{}{}
	}

	return p
}

// Add registers path as public.
func (p *PublicPaths) Add(path string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.paths[path] = struct{}{}
}

// Contains reports whether path bypasses authentication.
func (p *PublicPaths) Contains(path string) bool {
	if p == nil {
		return false
	}

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	_, ok := p.paths[path]

	return ok
}
