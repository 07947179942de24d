package ruleimport

import (
	"context"
	"time"
)

// Store persists sources and rules. Implementations must make every single
// method atomic, in particular bulk inserts and the status flips of
// CommitStaged and RollbackStaged. No locking beyond that is expected, only
// one import run may use a store at a time.
type Store interface {
	// ListSources returns all sources, enabled or not.
	ListSources(ctx context.Context) ([]Source, error)

	// ListEnabledSources returns all enabled sources.
	ListEnabledSources(ctx context.Context) ([]Source, error)

	// AddSource inserts a source or updates name, location and flags of an
	// existing one with the same ID. Revision tag and rule count of existing
	// sources are kept. A zero ID is replaced with a new one.
	AddSource(ctx context.Context, src *Source) error

	// UpdateSource writes all fields of an existing source.
	UpdateSource(ctx context.Context, src Source) error

	// MarkForDeletion marks all committed non-user rules of the given sources
	// as pending-delete.
	MarkForDeletion(ctx context.Context, sourceIDs []int64) error

	// PurgePendingDelete deletes all rules marked pending-delete.
	PurgePendingDelete(ctx context.Context) error

	// PurgeStaged deletes all rules marked staged-new.
	PurgeStaged(ctx context.Context) error

	// DeleteAllNonUserRules deletes every rule that wasn't created by the user.
	DeleteAllNonUserRules(ctx context.Context) error

	// InsertIgnoreConflict inserts rules, skipping those whose natural key
	// already exists. It returns the number of rules actually inserted.
	InsertIgnoreConflict(ctx context.Context, rules []Rule) (int, error)

	// CommitStaged deletes pending-delete rules, turns staged-new rules into
	// committed ones and drops staged-new rules that collided with committed
	// ones, all in one step. The active run, if any, is recorded as committed
	// in the same step.
	CommitStaged(ctx context.Context) error

	// RollbackStaged deletes staged-new rules and restores pending-delete
	// rules in one step.
	RollbackStaged(ctx context.Context) error

	// Unstage restores the pending-delete rules of one source.
	Unstage(ctx context.Context, sourceID int64) error

	// CountRulesFor returns the number of committed rules of a source.
	CountRulesFor(ctx context.Context, sourceID int64) (int, error)

	// RebuildIndices recreates the lookup indices over the rule table.
	RebuildIndices(ctx context.Context) error

	// ClearETagsOfDisabled removes the revision tag of all disabled sources.
	ClearETagsOfDisabled(ctx context.Context) error

	// Rules returns all rules with the given staging marker.
	Rules(ctx context.Context, staging StagingMarker) ([]Rule, error)

	// BeginRun records the start of an import run.
	BeginRun(ctx context.Context, run Run) error

	// EndRun removes the record of the active run.
	EndRun(ctx context.Context) error

	// PendingRun returns the run that was active when the process last
	// stopped, or nil if there is none.
	PendingRun(ctx context.Context) (*Run, error)

	Close() error
}

// Run is the journal entry of an import run. It allows an interrupted run to
// be completed or rolled back after a restart.
type Run struct {
	SourceIDs  []int64
	AllSources bool
	State      RunState
	Started    time.Time
}

// RunState is the progress of an import run as recorded in the store.
type RunState string

const (
	RunStaging   RunState = "staging"
	RunCommitted RunState = "committed"
)
