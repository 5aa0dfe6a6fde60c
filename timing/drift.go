package timing

import "sync"

// DriftModel is the clock drift fitted over the chosen samples in a
// History: Gradient is the least-squares slope of remote time against
// local time, and Intercept is the mean of remote minus local time over
// the same samples (not the regression line's intercept).
type DriftModel struct {
	Gradient  float64
	Intercept float64
	Samples   int // population size the model was fit over
}

// Valid reports whether enough samples were available to fit a model at
// all; a zero-value DriftModel is not usable.
func (d DriftModel) Valid() bool { return d.Samples > 0 }

// DriftStore holds the most recent drift model per peer, keyed by
// remote IP. Each PingExchanger creates its own store and overwrites
// the peer's entry after every successful fit; the store is not shared
// between sessions, so a model does not carry over to a later session
// from the same sender.
type DriftStore struct {
	mu     sync.Mutex
	models map[string]DriftModel
}

// NewDriftStore creates an empty store.
func NewDriftStore() *DriftStore {
	return &DriftStore{models: make(map[string]DriftModel)}
}

// Get returns the stored model for peer, if any.
func (s *DriftStore) Get(peer string) (DriftModel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[peer]
	return m, ok
}

// Set stores (overwriting) the model for peer.
func (s *DriftStore) Set(peer string, model DriftModel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[peer] = model
}
