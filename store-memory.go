package ruleimport

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// MemoryStore is a Store that holds everything in memory. Nothing survives a
// restart, it's meant for dry runs and tests.
type MemoryStore struct {
	mu       sync.Mutex
	sources  map[int64]Source
	rules    map[ruleKey]Rule
	run      *Run
	nextID   int64
	rebuilds int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sources: make(map[int64]Source),
		rules:   make(map[ruleKey]Rule),
		nextID:  1,
	}
}

func (s *MemoryStore) ListSources(ctx context.Context) ([]Source, error) {
	return s.listSources(func(Source) bool { return true }), nil
}

func (s *MemoryStore) ListEnabledSources(ctx context.Context) ([]Source, error) {
	return s.listSources(func(src Source) bool { return src.Enabled }), nil
}

func (s *MemoryStore) listSources(filter func(Source) bool) []Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []Source
	for _, src := range s.sources {
		if filter(src) {
			list = append(list, cloneSource(src))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

func (s *MemoryStore) AddSource(ctx context.Context, src *Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if src.ID == 0 {
		src.ID = s.nextID
	}
	if src.ID >= s.nextID {
		s.nextID = src.ID + 1
	}
	if existing, ok := s.sources[src.ID]; ok {
		existing.Name = src.Name
		existing.Location = src.Location
		existing.Enabled = src.Enabled
		existing.Whitelist = src.Whitelist
		s.sources[src.ID] = existing
		return nil
	}
	s.sources[src.ID] = cloneSource(*src)
	return nil
}

func (s *MemoryStore) UpdateSource(ctx context.Context, src Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[src.ID]; !ok {
		return errors.Wrapf(errNotFound, "source %d", src.ID)
	}
	s.sources[src.ID] = cloneSource(src)
	return nil
}

func (s *MemoryStore) MarkForDeletion(ctx context.Context, sourceIDs []int64) error {
	ids := make(map[int64]struct{}, len(sourceIDs))
	for _, id := range sourceIDs {
		ids[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restage(func(r Rule) bool {
		_, ok := ids[r.Source]
		return ok && !r.User && r.Staging == Committed
	}, PendingDelete, true)
	return nil
}

func (s *MemoryStore) PurgePendingDelete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(PendingDelete)
	return nil
}

func (s *MemoryStore) PurgeStaged(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(StagedNew)
	return nil
}

func (s *MemoryStore) DeleteAllNonUserRules(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, r := range s.rules {
		if !r.User {
			delete(s.rules, k)
		}
	}
	return nil
}

func (s *MemoryStore) InsertIgnoreConflict(ctx context.Context, rules []Rule) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, r := range rules {
		if _, ok := s.rules[r.key()]; ok {
			continue
		}
		s.rules[r.key()] = cloneRule(r)
		n++
	}
	return n, nil
}

func (s *MemoryStore) CommitStaged(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(PendingDelete)
	s.restage(func(r Rule) bool { return r.Staging == StagedNew }, Committed, false)
	s.purge(StagedNew)
	if s.run != nil {
		s.run.State = RunCommitted
	}
	return nil
}

func (s *MemoryStore) RollbackStaged(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(StagedNew)
	s.restage(func(r Rule) bool { return r.Staging == PendingDelete }, Committed, false)
	s.purge(PendingDelete)
	return nil
}

func (s *MemoryStore) Unstage(ctx context.Context, sourceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restage(func(r Rule) bool {
		return r.Source == sourceID && r.Staging == PendingDelete
	}, Committed, false)
	return nil
}

func (s *MemoryStore) CountRulesFor(ctx context.Context, sourceID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, r := range s.rules {
		if r.Source == sourceID && r.Staging == Committed {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) RebuildIndices(ctx context.Context) error {
	s.mu.Lock()
	s.rebuilds++
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ClearETagsOfDisabled(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, src := range s.sources {
		if !src.Enabled {
			src.ETag = nil
			s.sources[id] = src
		}
	}
	return nil
}

func (s *MemoryStore) Rules(ctx context.Context, staging StagingMarker) ([]Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []Rule
	for _, r := range s.rules {
		if r.Staging == staging {
			list = append(list, cloneRule(r))
		}
	}
	sortRules(list)
	return list, nil
}

func (s *MemoryStore) BeginRun(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.SourceIDs = append([]int64(nil), run.SourceIDs...)
	s.run = &run
	return nil
}

func (s *MemoryStore) EndRun(ctx context.Context) error {
	s.mu.Lock()
	s.run = nil
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) PendingRun(ctx context.Context) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return nil, nil
	}
	run := *s.run
	return &run, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// restage moves all rules matching the filter to another staging marker. If
// the new key of a rule is already taken, it either replaces the existing rule
// or stays where it is.
// Must be called with the lock held.
func (s *MemoryStore) restage(filter func(Rule) bool, to StagingMarker, replace bool) {
	var moved []Rule
	for k, r := range s.rules {
		if filter(r) {
			moved = append(moved, r)
			delete(s.rules, k)
		}
	}
	for _, r := range moved {
		nr := r
		nr.Staging = to
		if _, taken := s.rules[nr.key()]; taken && !replace {
			s.rules[r.key()] = r
			continue
		}
		s.rules[nr.key()] = nr
	}
}

// Must be called with the lock held.
func (s *MemoryStore) purge(staging StagingMarker) {
	for k, r := range s.rules {
		if r.Staging == staging {
			delete(s.rules, k)
		}
	}
}

func sortRules(rules []Rule) {
	sort.Slice(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Host != b.Host {
			return a.Host < b.Host
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Source < b.Source
	})
}

func cloneSource(src Source) Source {
	if src.ETag != nil {
		etag := *src.ETag
		src.ETag = &etag
	}
	if src.RuleCount != nil {
		n := *src.RuleCount
		src.RuleCount = &n
	}
	return src
}

func cloneRule(r Rule) Rule {
	if r.TargetV6 != nil {
		t := *r.TargetV6
		r.TargetV6 = &t
	}
	return r
}
