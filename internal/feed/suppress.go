package feed

import "sync"

// Suppressions remembers recipients found unreachable during an update pass so
// the rest of that pass skips them.
type Suppressions struct {
	mu          sync.RWMutex
	byRecipient map[string]uint64
}

// NewSuppressions returns an empty set.
func NewSuppressions() *Suppressions {
	return &Suppressions{byRecipient: make(map[string]uint64)}
}

// Suppress marks recipient as unreachable for the given pass.
func (s *Suppressions) Suppress(recipient string, pass uint64) {
	if pass == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byRecipient[recipient] = pass
}

// Suppressed reports whether recipient was marked during pass.
// Manual deliveries (pass zero) are never suppressed.
func (s *Suppressions) Suppressed(recipient string, pass uint64) bool {
	if pass == 0 {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	marked, ok := s.byRecipient[recipient]
	return ok && marked == pass
}

// Forget drops entries recorded before pass.
func (s *Suppressions) Forget(before uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for recipient, pass := range s.byRecipient {
		if pass < before {
			delete(s.byRecipient, recipient)
		}
	}
}

// Len returns the number of remembered recipients.
func (s *Suppressions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byRecipient)
}
