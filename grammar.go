package ruleimport

import (
	"fmt"
	"regexp"
	"strings"
)

// grammar identifies one of the fixed line shapes a source can be written in.
// The order of the constants is the order in which lines are tested.
type grammar int

const (
	grammarExactBlock grammar = iota // address=/domain/
	grammarTargeted                  // address=/domain/1.2.3.4
	grammarHosts                     // 0.0.0.0 domain
	grammarDomain                    // domain
	grammarFilterList                // ||domain^
)

var grammars = []grammar{
	grammarExactBlock,
	grammarTargeted,
	grammarHosts,
	grammarDomain,
	grammarFilterList,
}

var (
	exactBlockPattern = regexp.MustCompile(`^address=/([^/]+)/$`)
	targetedPattern   = regexp.MustCompile(`^address=/([^/]+)/(?:([0-9.]+)|([0-9a-fA-F:]+))(?:/?$|\s+.*)`)
	hostsPattern      = regexp.MustCompile(`^((?:[A-Fa-f0-9:.])+)\s+([^\s]+)`)
	domainPattern     = regexp.MustCompile(`^([_\w*][*\w_\-.]+)(?:$|\s+.*)`)
	filterListPattern = regexp.MustCompile(`^\|\|(.*)\^(?:$|\s+.*)`)
)

func (g grammar) pattern() *regexp.Regexp {
	switch g {
	case grammarExactBlock:
		return exactBlockPattern
	case grammarTargeted:
		return targetedPattern
	case grammarHosts:
		return hostsPattern
	case grammarDomain:
		return domainPattern
	case grammarFilterList:
		return filterListPattern
	}
	panic(fmt.Sprintf("unknown grammar %d", int(g)))
}

// match returns the submatches of line, or nil if the line isn't written in
// this grammar.
func (g grammar) match(line string) []string {
	return g.pattern().FindStringSubmatch(line)
}

// rules turns the submatches of a line into rules for src.
func (g grammar) rules(m []string, src Source) []Rule {
	v4, v6 := src.DefaultTargets()
	switch g {
	case grammarExactBlock:
		return newRules(exactHost(m[1]), v4, &v6, TypeANY, src)
	case grammarTargeted:
		addr := m[2]
		if addr == "" {
			addr = m[3]
		}
		return newRules(exactHost(stripWWW(m[1])), normalizeTarget(addr), nil, targetType(addr), src)
	case grammarHosts:
		host := stripWWW(m[2])
		if src.Whitelist {
			return newRules(host, v4, &v6, TypeANY, src)
		}
		return newRules(host, normalizeTarget(m[1]), nil, targetType(m[1]), src)
	case grammarDomain, grammarFilterList:
		return newRules(stripWWW(m[1]), v4, &v6, TypeANY, src)
	}
	return nil
}

func (g grammar) String() string {
	switch g {
	case grammarExactBlock:
		return "dnsmasq-block"
	case grammarTargeted:
		return "dnsmasq"
	case grammarHosts:
		return "hosts"
	case grammarDomain:
		return "domains"
	case grammarFilterList:
		return "adblock"
	}
	return fmt.Sprintf("grammar(%d)", int(g))
}

// exactHost marks host for exact matching. A wildcard host names more than
// one domain and is expanded like wildcards of the other grammars.
func exactHost(host string) string {
	if strings.Contains(host, "*") {
		return host
	}
	return exactMarker + host
}
