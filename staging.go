package ruleimport

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Staging runs the staged commit of one import run on top of a Store. New
// rules are written as staged-new and existing rules of the imported sources
// are marked pending-delete. Commit swaps the two sets in one store operation,
// Rollback restores the state from before the run. Until the commit, lookups
// keep seeing the pending-delete rules.
type Staging struct {
	store Store
}

// SourceResult is the outcome of importing a single source.
type SourceResult struct {
	Source Source
	Status SourceStatus

	// Rules added by this run. For unchanged sources the count from the
	// previous run.
	Rules int

	// Revision tag of the imported content, nil if there was none.
	ETag *string

	Err error
}

// SourceStatus describes what happened to a source in a run.
type SourceStatus int

const (
	SourceImported  SourceStatus = iota // Content was parsed completely
	SourceTruncated                     // Parsing stopped early, rules up to that point were kept
	SourceUnchanged                     // Remote content didn't change, previous rules kept
	SourceFailed                        // Content couldn't be retrieved
)

func (s SourceStatus) String() string {
	switch s {
	case SourceImported:
		return "imported"
	case SourceTruncated:
		return "truncated"
	case SourceUnchanged:
		return "unchanged"
	case SourceFailed:
		return "failed"
	}
	return "unknown"
}

func NewStaging(store Store) *Staging {
	return &Staging{store: store}
}

// Recover completes or rolls back a run that was interrupted by a restart.
// Runs that didn't reach the commit are rolled back, committed runs only get
// their indices and rule counts refreshed.
func (s *Staging) Recover(ctx context.Context) error {
	run, err := s.store.PendingRun(ctx)
	if err != nil {
		return storeErr("pending-run", err)
	}
	if run == nil {
		return nil
	}
	log := Log.WithFields(logrus.Fields{"started": run.Started, "state": run.State})
	switch run.State {
	case RunCommitted:
		log.Info("completing interrupted import run")
		if err := s.store.RebuildIndices(ctx); err != nil {
			return storeErr("rebuild-indices", err)
		}
		if err := s.refreshCounts(ctx, run.SourceIDs); err != nil {
			return err
		}
	default:
		log.Warn("rolling back interrupted import run")
		if err := s.store.RollbackStaged(ctx); err != nil {
			return storeErr("rollback", err)
		}
	}
	return storeErr("end-run", s.store.EndRun(ctx))
}

// Begin prepares the store for a run over the given sources. If all is set,
// the run covers every source and all imported rules are dropped up front.
func (s *Staging) Begin(ctx context.Context, sourceIDs []int64, all bool) error {
	run := Run{
		SourceIDs:  sourceIDs,
		AllSources: all,
		State:      RunStaging,
		Started:    time.Now(),
	}
	if err := s.store.BeginRun(ctx, run); err != nil {
		return storeErr("begin-run", err)
	}
	if all {
		return storeErr("delete-all", s.store.DeleteAllNonUserRules(ctx))
	}
	if err := s.store.MarkForDeletion(ctx, sourceIDs); err != nil {
		return storeErr("mark-for-deletion", err)
	}
	// Staged rules left behind by a run that never finished
	return storeErr("purge-staged", s.store.PurgeStaged(ctx))
}

// Insert writes parsed rules as staged-new. Rules that already exist are
// skipped, the number of rules added is returned.
func (s *Staging) Insert(ctx context.Context, rules []Rule) (int, error) {
	for i := range rules {
		rules[i].Staging = StagedNew
	}
	n, err := s.store.InsertIgnoreConflict(ctx, rules)
	return n, storeErr("insert", err)
}

// Keep cancels the pending deletion of a source's existing rules.
func (s *Staging) Keep(ctx context.Context, sourceID int64) error {
	return storeErr("unstage", s.store.Unstage(ctx, sourceID))
}

// Commit makes the staged rules visible and removes those they replace in
// one store operation. If it fails, nothing was changed and the run can still
// be rolled back.
func (s *Staging) Commit(ctx context.Context) error {
	return storeErr("commit", s.store.CommitStaged(ctx))
}

// Finish completes a committed run. It rebuilds the indices, then records the
// new revision tags and rule counts of the sources. Errors here don't undo the
// commit, the run stays journaled as committed and Recover completes it.
func (s *Staging) Finish(ctx context.Context, results []SourceResult) error {
	if err := s.store.RebuildIndices(ctx); err != nil {
		return storeErr("rebuild-indices", err)
	}
	for _, res := range results {
		src := res.Source
		switch res.Status {
		case SourceUnchanged:
			continue
		case SourceFailed:
			// The old rules are gone, a stale tag would keep them from
			// being fetched again.
			zero := 0
			src.ETag, src.RuleCount = nil, &zero
		default:
			n := res.Rules
			src.ETag, src.RuleCount = res.ETag, &n
		}
		if err := s.store.UpdateSource(ctx, src); err != nil {
			return storeErr("update-source", err)
		}
	}
	if err := s.store.ClearETagsOfDisabled(ctx); err != nil {
		return storeErr("clear-etags", err)
	}
	return storeErr("end-run", s.store.EndRun(ctx))
}

// Rollback discards everything staged by the run and restores the rules
// marked for deletion.
func (s *Staging) Rollback(ctx context.Context) error {
	if err := s.store.RollbackStaged(ctx); err != nil {
		return storeErr("rollback", err)
	}
	return storeErr("end-run", s.store.EndRun(ctx))
}

func (s *Staging) refreshCounts(ctx context.Context, sourceIDs []int64) error {
	sources, err := s.store.ListSources(ctx)
	if err != nil {
		return storeErr("list-sources", err)
	}
	wanted := make(map[int64]bool, len(sourceIDs))
	for _, id := range sourceIDs {
		wanted[id] = true
	}
	for _, src := range sources {
		if !wanted[src.ID] {
			continue
		}
		n, err := s.store.CountRulesFor(ctx, src.ID)
		if err != nil {
			return storeErr("count-rules", err)
		}
		src.RuleCount = &n
		if err := s.store.UpdateSource(ctx, src); err != nil {
			return storeErr("update-source", err)
		}
	}
	return nil
}
