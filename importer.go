package ruleimport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Importer refreshes the rules of the configured sources. Only one run can be
// active per importer at a time.
type Importer struct {
	id      string
	store   Store
	staging *Staging
	loader  SourceLoader
	sink    ProgressSink
	metrics *ImportMetrics

	running sync.Mutex
	aborted atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// ImporterOptions contain optional settings of an importer.
type ImporterOptions struct {
	// Receives progress updates. Defaults to NopProgress.
	Progress ProgressSink
}

// ImportSummary describes a committed run.
type ImportSummary struct {
	// Rules held by all processed sources after the run.
	TotalRules int

	// Rules of unchanged sources that were kept from previous runs.
	ReusedRules int

	Sources  []SourceResult
	Duration time.Duration
}

// NewImporter returns an importer writing to store. The id is used to publish
// metrics.
func NewImporter(id string, store Store, loader SourceLoader, opt ImporterOptions) *Importer {
	if opt.Progress == nil {
		opt.Progress = NopProgress{}
	}
	return &Importer{
		id:      id,
		store:   store,
		staging: NewStaging(store),
		loader:  loader,
		sink:    opt.Progress,
		metrics: NewImportMetrics(id),
	}
}

// Import runs the import for the enabled sources with the given IDs, or all
// enabled sources if none are given. The rules of all sources are replaced in
// one commit at the end. If the run is aborted, or the store fails before the
// commit, nothing is changed and ErrAborted or a *StoreError is returned.
// Store failures after the commit are returned as well, with the new rules in
// place.
func (i *Importer) Import(ctx context.Context, ids ...int64) (*ImportSummary, error) {
	i.running.Lock()
	defer i.running.Unlock()

	start := time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	i.mu.Lock()
	i.aborted.Store(false)
	i.cancel = cancel
	i.mu.Unlock()
	defer func() {
		i.mu.Lock()
		i.cancel = nil
		i.mu.Unlock()
	}()

	// Store operations must complete even if the caller gives up.
	sctx := context.WithoutCancel(ctx)

	if err := i.staging.Recover(sctx); err != nil {
		i.metrics.runFailed(start)
		return nil, err
	}

	sources, err := EnumerateSources(sctx, i.store, ids)
	if err != nil {
		i.metrics.runFailed(start)
		return nil, err
	}
	all := len(ids) == 0
	if err := i.staging.Begin(sctx, sourceIDs(sources), all); err != nil {
		return nil, i.rollback(sctx, start, err)
	}

	results := make([]SourceResult, 0, len(sources))
	for n, src := range sources {
		if i.isAborted(runCtx) {
			break
		}
		i.sink.OnProgress(n, len(sources), src)
		res, err := i.importSource(ctx, runCtx, src, all)
		if errors.Is(err, ErrAborted) {
			break
		}
		if err != nil {
			return nil, i.rollback(sctx, start, err)
		}
		results = append(results, res)
	}
	if i.isAborted(runCtx) {
		if err := i.staging.Rollback(sctx); err != nil {
			i.metrics.runFailed(start)
			return nil, err
		}
		i.metrics.runAborted(start)
		i.sink.OnAborted()
		return nil, ErrAborted
	}

	if err := i.staging.Commit(sctx); err != nil {
		return nil, i.rollback(sctx, start, err)
	}
	// The new rules are visible from here on, failures are not rolled back.
	if err := i.staging.Finish(sctx, results); err != nil {
		i.metrics.runFailed(start)
		Log.WithError(err).Error("failed to complete committed import run")
		return nil, err
	}
	summary := ImportSummary{
		Sources:  results,
		Duration: time.Since(start),
	}
	for _, res := range results {
		summary.TotalRules += res.Rules
		if res.Status == SourceUnchanged {
			summary.ReusedRules += res.Rules
		}
	}
	i.metrics.runCommitted(summary)
	i.sink.OnFinished(summary)
	return &summary, nil
}

// importSource loads and parses a single source. Fetch and format problems
// are recorded in the result, only aborts and store failures are returned.
// Loading uses ctx so a running request isn't cut off by an abort, parsing
// stops as soon as runCtx is cancelled.
func (i *Importer) importSource(ctx, runCtx context.Context, src Source, all bool) (SourceResult, error) {
	log := sourceLogger(src)
	res := SourceResult{Source: src}

	// Without retained rules, content has to be fetched even if unchanged.
	if all {
		src.ETag = nil
	}
	loaded, err := i.loader.Load(ctx, src)
	if err != nil {
		log.WithError(err).Warn("failed to load source")
		res.Status, res.Err = SourceFailed, err
		return res, nil
	}
	if loaded.NotModified {
		if err := i.staging.Keep(context.WithoutCancel(ctx), src.ID); err != nil {
			return res, err
		}
		log.Debug("source unchanged, keeping rules")
		res.Status, res.ETag = SourceUnchanged, src.ETag
		if src.RuleCount != nil {
			res.Rules = *src.RuleCount
		}
		return res, nil
	}
	defer loaded.Body.Close()

	if loaded.ETag != "" {
		tag := loaded.ETag
		res.ETag = &tag
	}
	n, err := parseSource(runCtx, src, loaded.Body, i.staging)
	res.Rules = n
	switch {
	case err == nil:
		res.Status = SourceImported
	case errors.Is(err, ErrUnrecognizedFormat):
		res.Status, res.Err = SourceTruncated, err
	default:
		return res, err
	}
	log.WithFields(logrus.Fields{"rules": n, "status": res.Status}).Info("source imported")
	return res, nil
}

// Abort stops the active run. The run rolls back and returns ErrAborted.
// It does nothing if no run is active.
func (i *Importer) Abort() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cancel == nil {
		return
	}
	i.aborted.Store(true)
	i.cancel()
}

func (i *Importer) isAborted(runCtx context.Context) bool {
	return i.aborted.Load() || runCtx.Err() != nil
}

// rollback undoes the run after a store failure the same way an abort does
// and returns cause.
func (i *Importer) rollback(ctx context.Context, start time.Time, cause error) error {
	i.metrics.runFailed(start)
	Log.WithError(cause).Error("import failed, rolling back")
	if err := i.staging.Rollback(ctx); err != nil {
		Log.WithError(err).Error("rollback failed")
		return cause
	}
	i.sink.OnAborted()
	return cause
}
