package delegation

import "sync"

// DetectedStore holds runtime detections keyed by payer, last write wins.
// It is injected rather than global so concurrent runs stay isolated and
// tests get clean fixtures.
type DetectedStore struct {
	mu      sync.RWMutex
	byPayer map[string]Detection
}

// NewDetectedStore creates an empty store.
func NewDetectedStore() *DetectedStore {
	return &DetectedStore{byPayer: make(map[string]Detection)}
}

// Put replaces the detection for a payer. Facts are point-in-time
// snapshots, so replacement is the whole protocol.
func (s *DetectedStore) Put(d Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byPayer[d.PayerID] = d
}

// Get returns the current detection for a payer, if any.
func (s *DetectedStore) Get(payerID string) (Detection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byPayer[payerID]
	return d, ok
}

// All returns a snapshot of every detection.
func (s *DetectedStore) All() []Detection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Detection, 0, len(s.byPayer))
	for _, d := range s.byPayer {
		out = append(out, d)
	}
	return out
}
