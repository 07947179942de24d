package ruleimport

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

var (
	wwwPrefix = regexp.MustCompile(`^www\.`)

	// Runs of more than two markers left over from collapsing '*' and '**'.
	wildcardRuns = regexp.MustCompile(`%{3,}`)
)

// stripWWW removes a single leading "www." label.
func stripWWW(host string) string {
	return wwwPrefix.ReplaceAllString(host, "")
}

// toASCII converts internationalized names to punycode. Names that are
// already ASCII, or can't be converted, are returned unchanged.
func toASCII(host string) string {
	for i := 0; i < len(host); i++ {
		if host[i] >= utf8.RuneSelf {
			if a, err := idna.Punycode.ToASCII(host); err == nil {
				return a
			}
			return host
		}
	}
	return host
}

// normalizeTarget replaces well-known null and loopback addresses with the
// sentinel targets. Anything else is an explicit override.
func normalizeTarget(addr string) string {
	switch addr {
	case "0.0.0.0", "::", "::0":
		return BlockTarget
	case "127.0.0.1", "::1":
		return AllowTarget
	}
	return addr
}

// targetType returns the record type an address literal applies to.
func targetType(addr string) RecordType {
	if strings.Contains(addr, ":") {
		return TypeAAAA
	}
	return TypeA
}

// expandWildcard turns the '*' wildcards of a host into stored markers. Local
// files map '*' to a single-label marker. Remote lists treat '*' as any
// depth, and a leading "*." also produces the parent domain itself.
func expandWildcard(host string, fileSource bool) []string {
	if fileSource {
		h := strings.ReplaceAll(host, "**", anyDepthWildcard)
		h = strings.ReplaceAll(h, "*", labelWildcard)
		return []string{collapseWildcards(h)}
	}
	if strings.HasPrefix(host, "*.") {
		parent := strings.TrimPrefix(host, "*.")
		return []string{
			strings.ReplaceAll(parent, "*", ""),
			collapseWildcards(anyDepthWildcard + "." + strings.ReplaceAll(parent, "*", anyDepthWildcard)),
		}
	}
	h := strings.ReplaceAll(host, "**", anyDepthWildcard)
	h = strings.ReplaceAll(h, "*", anyDepthWildcard)
	return []string{collapseWildcards(h)}
}

func collapseWildcards(host string) string {
	return wildcardRuns.ReplaceAllString(host, anyDepthWildcard)
}

// newRules builds the rules for one extracted host. Wildcard hosts from remote
// lists can expand into two rules.
func newRules(host, target string, targetV6 *string, typ RecordType, src Source) []Rule {
	host = toASCII(strings.ToLower(host))
	if !strings.Contains(host, "*") {
		return []Rule{{
			Type:     typ,
			Host:     host,
			Target:   target,
			TargetV6: targetV6,
			Source:   src.ID,
			Staging:  StagedNew,
		}}
	}
	hosts := expandWildcard(host, src.IsFileSource())
	rules := make([]Rule, 0, len(hosts))
	for _, h := range hosts {
		rules = append(rules, Rule{
			Type:     typ,
			Host:     h,
			Target:   target,
			TargetV6: targetV6,
			Source:   src.ID,
			Wildcard: true,
			Staging:  StagedNew,
		})
	}
	return rules
}
