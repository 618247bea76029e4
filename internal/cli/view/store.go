// Package view keeps the client-side copies of the submissions and ranking
// lists. Every update replaces a view wholesale; the newest write wins.
package view

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"arena/internal/cli/event"
	"arena/pkg/utils/logger"

	"go.uber.org/zap"
)

// Names of the views kept by the store. Problem rankings are stored as
// "ranking:<problemId>".
const (
	Submissions = "submissions"
	Ranking     = "ranking"
)

// Name maps a refreshed view to its storage name.
func Name(v event.View, key string) string {
	switch v {
	case event.ViewSubmissions:
		return Submissions
	case event.ViewProblemRanking:
		return Ranking + ":" + key
	default:
		return Ranking
	}
}

// Mirror receives every replacement after it is applied locally.
type Mirror interface {
	Save(ctx context.Context, name string, payload json.RawMessage) error
	Load(ctx context.Context, name string) (json.RawMessage, bool, error)
}

// Entry is one stored view.
type Entry struct {
	Payload   json.RawMessage
	UpdatedAt time.Time
}

// Store is an event.Sink holding the latest payload of each view.
type Store struct {
	mu     sync.RWMutex
	views  map[string]Entry
	mirror Mirror
}

func NewStore(mirror Mirror) *Store {
	return &Store{views: make(map[string]Entry), mirror: mirror}
}

// Emit applies RefreshCompleted and SubmissionDeleted. Other events,
// SubmissionSaved included, leave the views untouched.
func (s *Store) Emit(ctx context.Context, ev event.Event) {
	switch e := ev.(type) {
	case event.RefreshCompleted:
		s.Replace(ctx, Name(e.View, e.Key), e.Payload)
	case event.SubmissionDeleted:
		s.Replace(ctx, Submissions, e.Payload)
	}
}

// Replace swaps the named view for payload.
func (s *Store) Replace(ctx context.Context, name string, payload json.RawMessage) {
	copied := append(json.RawMessage(nil), payload...)
	s.mu.Lock()
	s.views[name] = Entry{Payload: copied, UpdatedAt: time.Now()}
	s.mu.Unlock()

	if s.mirror == nil {
		return
	}
	if err := s.mirror.Save(ctx, name, copied); err != nil {
		logger.Warn(ctx, "mirror view failed", zap.String("view", name), zap.Error(err))
	}
}

// Get returns the payload of the named view.
func (s *Store) Get(name string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.views[name]
	if !ok {
		return nil, false
	}
	return entry.Payload, true
}

// Entry returns the named view with its update time.
func (s *Store) Entry(name string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.views[name]
	return entry, ok
}

// Names lists stored views in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.views))
	for name := range s.views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Warm loads the named views from the mirror without writing them back.
// Views already present locally are kept.
func (s *Store) Warm(ctx context.Context, names ...string) (int, error) {
	if s.mirror == nil {
		return 0, nil
	}
	loaded := 0
	for _, name := range names {
		payload, ok, err := s.mirror.Load(ctx, name)
		if err != nil {
			return loaded, err
		}
		if !ok {
			continue
		}
		s.mu.Lock()
		if _, exists := s.views[name]; !exists {
			s.views[name] = Entry{Payload: payload, UpdatedAt: time.Now()}
			loaded++
		}
		s.mu.Unlock()
	}
	return loaded, nil
}
