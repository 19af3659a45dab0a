package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the in-memory Store used by tests and single-node setups.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[UserType]map[string]*Profile
	sessions map[string]*WorkflowSession
	partners []*Partner
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: map[UserType]map[string]*Profile{
			UserTypeAdmin:     {},
			UserTypePartner:   {},
			UserTypeJobSeeker: {},
		},
		sessions: make(map[string]*WorkflowSession),
	}
}

// resolutionOrder fixes which profile table wins when a user appears in more
// than one.
var resolutionOrder = []UserType{UserTypeAdmin, UserTypePartner, UserTypeJobSeeker}

func (m *MemoryStore) ResolveProfile(ctx context.Context, userID string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ut := range resolutionOrder {
		if p, ok := m.profiles[ut][userID]; ok {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UpsertProfile(ctx context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.profiles[p.UserType][p.UserID] = &cp
	return nil
}

func (m *MemoryStore) SaveSession(ctx context.Context, s *WorkflowSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	now := time.Now().UTC()
	if existing, ok := m.sessions[s.SessionID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.sessions[s.SessionID] = &cp
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, sessionID string) (*WorkflowSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, userID string) ([]*WorkflowSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*WorkflowSession
	for _, s := range m.sessions {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ExpireSessions(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := 0
	for _, s := range m.sessions {
		if s.Status == SessionActive && s.UpdatedAt.Before(cutoff) {
			s.Status = SessionExpired
			changed++
		}
	}
	return changed, nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) AddPartner(ctx context.Context, p *Partner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	cp.FocusAreas = append([]string(nil), p.FocusAreas...)
	m.partners = append(m.partners, &cp)
	return nil
}

func (m *MemoryStore) MatchPartners(ctx context.Context, query string, limit int) ([]PartnerMatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 5
	}

	terms := queryTerms(query)
	var matches []PartnerMatch
	for _, p := range m.partners {
		score := scorePartner(p, terms)
		if score <= 0 {
			continue
		}
		matches = append(matches, PartnerMatch{
			Organization:  p.Organization,
			Role:          p.Role,
			MatchScore:    score,
			CareerPageURL: p.CareerPageURL,
			Contact:       p.Contact,
			Location:      p.Location,
			SalaryRange:   p.SalaryRange,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].MatchScore != matches[j].MatchScore {
			return matches[i].MatchScore > matches[j].MatchScore
		}
		return matches[i].Organization < matches[j].Organization
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (m *MemoryStore) Close() error { return nil }

// queryTerms splits a query into lowercase terms, dropping short stopwords.
func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	var terms []string
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()")
		if len(f) >= 3 {
			terms = append(terms, f)
		}
	}
	return terms
}

// scorePartner is the fraction of query terms that appear in the partner's
// text fields.
func scorePartner(p *Partner, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	haystack := strings.ToLower(strings.Join(append([]string{p.Organization, p.Role, p.Location}, p.FocusAreas...), " "))
	hits := 0
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
