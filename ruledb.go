package ruleimport

import (
	"context"
	"net"
	"regexp"
	"strings"

	"github.com/miekg/dns"
)

// RuleDB answers DNS questions from the live rules of a store. It's
// immutable, a new instance is loaded after every import run.
type RuleDB struct {
	exact    map[string][]Rule
	patterns []patternRule
}

type patternRule struct {
	re   *regexp.Regexp
	rule Rule
}

// RuleMatch is returned by RuleDB when a question matches a rule.
type RuleMatch struct {
	Rule Rule

	// The question is explicitly allowed and should be resolved normally.
	Allow bool

	// Address to answer with. nil for blocked questions.
	IP net.IP
}

// Blocked returns true if the question should be answered with a null
// response.
func (m RuleMatch) Blocked() bool {
	return !m.Allow && m.IP == nil
}

// NewRuleDB builds a lookup database from a set of rules. Rules staged by an
// unfinished run are ignored. Pending-delete rules stay live until the run
// commits or rolls back.
func NewRuleDB(rules []Rule) (*RuleDB, error) {
	db := &RuleDB{exact: make(map[string][]Rule)}
	for _, r := range rules {
		if !r.Staging.live() {
			continue
		}
		host := r.Host
		// Exact marker followed by a literal name
		if strings.HasPrefix(host, exactMarker) && !strings.HasPrefix(host, anyDepthWildcard+".") {
			host = strings.TrimPrefix(host, exactMarker)
		}
		if !strings.Contains(host, labelWildcard) {
			db.exact[host] = append(db.exact[host], r)
			continue
		}
		re, err := regexp.Compile(patternExpr(host))
		if err != nil {
			return nil, err
		}
		db.patterns = append(db.patterns, patternRule{re: re, rule: r})
	}
	return db, nil
}

// LoadRuleDB reads the live rules from a store. While an import run is in
// progress these are the rules from before the run.
func LoadRuleDB(ctx context.Context, store Store) (*RuleDB, error) {
	var rules []Rule
	for _, staging := range []StagingMarker{Committed, PendingDelete} {
		r, err := store.Rules(ctx, staging)
		if err != nil {
			return nil, storeErr("rules", err)
		}
		rules = append(rules, r...)
	}
	return NewRuleDB(rules)
}

// patternExpr turns a stored host pattern into an anchored regular expression.
func patternExpr(host string) string {
	var b strings.Builder
	b.WriteString("^")
	for len(host) > 0 {
		switch {
		case strings.HasPrefix(host, anyDepthWildcard):
			b.WriteString(".+")
			host = host[len(anyDepthWildcard):]
		case strings.HasPrefix(host, labelWildcard):
			b.WriteString("[^.]+")
			host = host[len(labelWildcard):]
		default:
			i := strings.Index(host, labelWildcard)
			if i < 0 {
				i = len(host)
			}
			b.WriteString(regexp.QuoteMeta(host[:i]))
			host = host[i:]
		}
	}
	b.WriteString("$")
	return b.String()
}

// Match looks up the rules for a question. Allow rules take precedence over
// all others, exact names over patterns.
func (db *RuleDB) Match(q dns.Question) (RuleMatch, bool) {
	name := strings.ToLower(strings.TrimSuffix(q.Name, "."))
	var candidates []Rule
	for _, r := range db.exact[name] {
		if r.Type.Matches(q.Qtype) {
			candidates = append(candidates, r)
		}
	}
	for _, p := range db.patterns {
		if p.rule.Type.Matches(q.Qtype) && p.re.MatchString(name) {
			candidates = append(candidates, p.rule)
		}
	}
	if len(candidates) == 0 {
		return RuleMatch{}, false
	}
	for _, r := range candidates {
		if r.IsAllow() {
			return RuleMatch{Rule: r, Allow: true}, true
		}
	}
	r := candidates[0]
	target := r.Target
	if q.Qtype == dns.TypeAAAA && r.TargetV6 != nil {
		target = *r.TargetV6
	}
	m := RuleMatch{Rule: r}
	if target != BlockTarget {
		m.IP = net.ParseIP(target)
	}
	return m, true
}

// Len returns the number of rules in the database.
func (db *RuleDB) Len() int {
	n := len(db.patterns)
	for _, rules := range db.exact {
		n += len(rules)
	}
	return n
}

func (db *RuleDB) String() string {
	return "RuleDB"
}
