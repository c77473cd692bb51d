// Package roster resolves author ids against the local identity and the set
// of participants eligible to appear in a chat.
package roster

import (
	"regexp"
	"sync"

	"github.com/taskboard/taskchat/internal/domain"
)

// IdentityProvider supplies the local actor, if any.
type IdentityProvider interface {
	Current() (domain.Participant, bool)
}

// Provider supplies chat participants for name and role resolution.
type Provider interface {
	Lookup(id string) (domain.Participant, bool)
	Participants() []domain.Participant
}

type StaticIdentity struct {
	p domain.Participant
}

func NewStaticIdentity(p domain.Participant) *StaticIdentity {
	return &StaticIdentity{p: p}
}

func (s *StaticIdentity) Current() (domain.Participant, bool) {
	if s == nil || s.p.ID == "" {
		return domain.Participant{}, false
	}
	return s.p, true
}

// Static is an in-memory roster. It is safe for concurrent use and can be
// replaced wholesale with Set when the surrounding app refreshes it.
type Static struct {
	mu    sync.RWMutex
	byID  map[string]domain.Participant
	order []domain.Participant
}

func NewStatic(ps []domain.Participant) *Static {
	s := &Static{}
	s.Set(ps)
	return s
}

func (s *Static) Set(ps []domain.Participant) {
	byID := make(map[string]domain.Participant, len(ps))
	order := make([]domain.Participant, 0, len(ps))
	for _, p := range ps {
		if p.ID == "" {
			continue
		}
		if _, dup := byID[p.ID]; !dup {
			order = append(order, p)
		}
		byID[p.ID] = p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = byID
	s.order = order
}

func (s *Static) Lookup(id string) (domain.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	return p, ok
}

func (s *Static) Participants() []domain.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Participant, 0, len(s.order))
	for _, p := range s.order {
		out = append(out, s.byID[p.ID])
	}
	return out
}

// FirstWithRole returns the first participant whose role matches re.
func FirstWithRole(p Provider, re *regexp.Regexp) (domain.Participant, bool) {
	for _, part := range p.Participants() {
		if re.MatchString(part.Role) {
			return part, true
		}
	}
	return domain.Participant{}, false
}

// Author is the display metadata for a message's author.
type Author struct {
	ID    string
	Name  string
	Role  string
	Mine  bool
	Known bool
}

// Resolver checks the local identity first, then the roster, and falls back
// to the "Unknown" sentinel. It never fails.
type Resolver struct {
	identity IdentityProvider
	roster   Provider
}

func NewResolver(identity IdentityProvider, roster Provider) *Resolver {
	return &Resolver{identity: identity, roster: roster}
}

func (r *Resolver) Resolve(authorID string) Author {
	if r.identity != nil {
		if me, ok := r.identity.Current(); ok && me.ID == authorID {
			return Author{ID: authorID, Name: me.DisplayName(), Role: me.Role, Mine: true, Known: true}
		}
	}
	if r.roster != nil && authorID != "" {
		if p, ok := r.roster.Lookup(authorID); ok {
			return Author{ID: authorID, Name: p.DisplayName(), Role: p.Role, Known: true}
		}
	}
	return Author{ID: authorID, Name: domain.UnknownAuthor}
}
