package ruleimport

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// A grammar is dropped for the rest of a source once it failed to match
	// more lines than this.
	maxGrammarFailures = 5

	// Once a grammar matched more lines than this, it's the only one tested.
	lockInMatches = 35

	// Lines processed between two flushes to the store.
	flushLines = 10000

	// Longest line accepted from a source.
	maxLineLength = 1024 * 1024
)

// ruleWriter persists batches of parsed rules and returns how many were added.
type ruleWriter interface {
	Insert(ctx context.Context, rules []Rule) (int, error)
}

// candidate is a grammar that hasn't been ruled out for the current source.
type candidate struct {
	grammar  grammar
	failures int
	matches  int
	batch    []Rule
}

// lineParser detects the grammar of a single source while parsing it. It's
// created fresh for every source.
type lineParser struct {
	src        Source
	w          ruleWriter
	log        *logrus.Entry
	candidates []*candidate
	locked     *candidate

	// Only ever extended, eliminated candidates stay in here so their
	// pending batches can be flushed.
	all []*candidate

	sinceFlush int
	written    int
}

func newLineParser(src Source, w ruleWriter) *lineParser {
	p := &lineParser{
		src: src,
		w:   w,
		log: sourceLogger(src),
	}
	for _, g := range grammars {
		c := &candidate{grammar: g}
		p.candidates = append(p.candidates, c)
		p.all = append(p.all, c)
	}
	return p
}

// parseSource reads all lines from r, detects the grammar they're written in
// and writes the resulting rules to w. It returns the number of rules written.
// The context is checked before every line, once it's cancelled parsing stops,
// pending rules are discarded and ErrAborted is returned. ErrUnrecognizedFormat
// is returned if no grammar was left for a line, with all rules parsed until
// then written.
func parseSource(ctx context.Context, src Source, r io.Reader, w ruleWriter) (int, error) {
	return newLineParser(src, w).parse(ctx, r)
}

func (p *lineParser) parse(ctx context.Context, r io.Reader) (int, error) {
	// Writes must not be interrupted half-way by an abort.
	wctx := context.WithoutCancel(ctx)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return p.written, ErrAborted
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		p.sinceFlush++
		if !p.processLine(line) {
			p.log.WithField("line", line).Warn("no grammar left for source, skipping remaining lines")
			if err := p.flushAll(wctx); err != nil {
				return p.written, err
			}
			return p.written, ErrUnrecognizedFormat
		}
		if p.sinceFlush > flushLines {
			if err := p.flushSmallest(wctx); err != nil {
				return p.written, err
			}
			p.sinceFlush = 0
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return p.written, ErrAborted
		}
		p.log.WithError(err).Warn("failed to read source, keeping rules parsed so far")
	}
	if ctx.Err() != nil {
		return p.written, ErrAborted
	}
	return p.written, p.flushAll(wctx)
}

// processLine tests line against the remaining grammars. It returns false if
// all grammars have been eliminated without one matching the line.
func (p *lineParser) processLine(line string) bool {
	if p.locked != nil {
		if m := p.locked.grammar.match(line); m != nil {
			p.accept(p.locked, m)
		}
		return true
	}
	for i := 0; i < len(p.candidates); {
		c := p.candidates[i]
		if m := c.grammar.match(line); m != nil {
			p.accept(c, m)
			if c.matches > lockInMatches {
				p.log.WithField("grammar", c.grammar).Debug("grammar detected")
				p.locked = c
			}
			return true
		}
		c.failures++
		if c.failures > maxGrammarFailures {
			p.log.WithFields(logrus.Fields{"grammar": c.grammar, "line": line}).Debug("grammar failed too often, removing")
			p.candidates = append(p.candidates[:i], p.candidates[i+1:]...)
			continue
		}
		i++
	}
	return len(p.candidates) > 0
}

func (p *lineParser) accept(c *candidate, m []string) {
	c.matches++
	c.batch = append(c.batch, c.grammar.rules(m, p.src)...)
}

// flushSmallest writes the pending batch of the candidate holding the fewest
// rules. Empty batches are not considered.
func (p *lineParser) flushSmallest(ctx context.Context) error {
	var smallest *candidate
	for _, c := range p.all {
		if len(c.batch) == 0 {
			continue
		}
		if smallest == nil || len(c.batch) < len(smallest.batch) {
			smallest = c
		}
	}
	if smallest == nil {
		return nil
	}
	return p.flush(ctx, smallest)
}

func (p *lineParser) flushAll(ctx context.Context) error {
	for _, c := range p.all {
		if len(c.batch) == 0 {
			continue
		}
		if err := p.flush(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (p *lineParser) flush(ctx context.Context, c *candidate) error {
	n, err := p.w.Insert(ctx, c.batch)
	if err != nil {
		return errors.Wrapf(err, "flushing %d rules of %s", len(c.batch), p.src.Name)
	}
	p.written += n
	c.batch = c.batch[:0]
	return nil
}
