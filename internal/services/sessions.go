package services

import (
	"sort"
	"time"

	"github.com/algorand/go-deadlock"
	"github.com/google/uuid"

	fiterrors "fitcore/internal/errors"
	"fitcore/internal/license"
)

// Session is an open feature consumption.
type Session struct {
	ID        string               `json:"session_id"`
	FeatureID uint32               `json:"feature_id"`
	ProductID uint32               `json:"product_id"`
	Model     license.LicenseModel `json:"license_model"`
	StartedAt time.Time            `json:"started_at"`

	fc *license.FeatureContext
}

type sessionRegistry struct {
	mu        deadlock.RWMutex
	sessions  map[string]*Session
	byProduct map[uint32]int
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{
		sessions:  make(map[string]*Session),
		byProduct: make(map[uint32]int),
	}
}

// open registers a session for fc unless the product's concurrency limit
// is already reached.
func (r *sessionRegistry) open(fc *license.FeatureContext, now time.Time) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	limit := fc.Model.ConcurrencyLimit
	if limit != license.UnlimitedConcurrency && uint32(r.byProduct[fc.ProductID]) >= limit {
		return nil, fiterrors.ErrConcurrencyLimit
	}

	s := &Session{
		ID:        uuid.NewString(),
		FeatureID: fc.FeatureID,
		ProductID: fc.ProductID,
		Model:     fc.Model,
		StartedAt: now,
		fc:        fc,
	}
	r.sessions[s.ID] = s
	r.byProduct[fc.ProductID]++
	return s, nil
}

func (r *sessionRegistry) close(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	if r.byProduct[s.ProductID]--; r.byProduct[s.ProductID] <= 0 {
		delete(r.byProduct, s.ProductID)
	}
	return s, true
}

func (r *sessionRegistry) list() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (r *sessionRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
