package ruleimport

import (
	"github.com/sirupsen/logrus"
)

// ProgressSink receives progress updates of an import run. Calls are made from
// the goroutine running the import and must not block for long.
type ProgressSink interface {
	// OnProgress is called before source number index (starting at 0) out of
	// total is processed.
	OnProgress(index, total int, src Source)

	// OnFinished is called once after a run was committed.
	OnFinished(summary ImportSummary)

	// OnAborted is called once after an aborted run was rolled back.
	OnAborted()
}

// NopProgress discards all progress updates.
type NopProgress struct{}

var _ ProgressSink = NopProgress{}

func (NopProgress) OnProgress(int, int, Source) {}
func (NopProgress) OnFinished(ImportSummary)    {}
func (NopProgress) OnAborted()                  {}

// LogProgress writes progress updates to the package logger.
type LogProgress struct{}

var _ ProgressSink = LogProgress{}

func (LogProgress) OnProgress(index, total int, src Source) {
	sourceLogger(src).WithFields(logrus.Fields{
		"location": src.Location,
		"progress": index + 1,
		"total":    total,
	}).Info("importing source")
}

func (LogProgress) OnFinished(summary ImportSummary) {
	Log.WithFields(logrus.Fields{
		"rules":    summary.TotalRules,
		"new":      summary.TotalRules - summary.ReusedRules,
		"sources":  len(summary.Sources),
		"duration": summary.Duration,
	}).Info("import finished")
}

func (LogProgress) OnAborted() {
	Log.Warn("import aborted, rules restored")
}
