package ruleimport

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func question(name string, qtype uint16) dns.Question {
	return dns.Question{Name: name, Qtype: qtype, Qclass: dns.ClassINET}
}

func TestRuleDB(t *testing.T) {
	v6Override := "fd00::1"
	allow := AllowTarget
	rules := []Rule{
		testRule("%%exact.example", 1, Committed),     // exact marker
		testRule("plain.example", 1, Committed),       // literal name
		testRule("%%.sub.example", 1, Committed),      // any depth
		testRule("ads.%.example", 1, Committed),       // one label
		testRule("staged.example", 1, StagedNew),      // not visible
		testRule("leaving.example", 1, PendingDelete), // visible until commit
		testRule("%%.allowed.example", 1, Committed),  // blocked, but see below
		{Type: TypeANY, Host: "cdn.allowed.example", Target: allow, TargetV6: &allow, Source: 2},
		{Type: TypeA, Host: "%%printer.lan", Target: "10.0.0.5", Source: 3},
		{Type: TypeANY, Host: "dual.example", Target: "10.0.0.6", TargetV6: &v6Override, Source: 3},
	}
	db, err := NewRuleDB(rules)
	require.NoError(t, err)
	require.Equal(t, 9, db.Len())

	tests := []struct {
		q       string
		qtype   uint16
		match   bool
		blocked bool
		allow   bool
		ip      string
	}{
		// exact
		{"exact.example.", dns.TypeA, true, true, false, ""},
		{"EXACT.example.", dns.TypeAAAA, true, true, false, ""},
		{"x.exact.example.", dns.TypeA, false, false, false, ""},
		{"plain.example.", dns.TypeA, true, true, false, ""},
		{"x.plain.example.", dns.TypeA, false, false, false, ""},

		// any depth, the parent itself isn't matched
		{"a.sub.example.", dns.TypeA, true, true, false, ""},
		{"a.b.sub.example.", dns.TypeA, true, true, false, ""},
		{"sub.example.", dns.TypeA, false, false, false, ""},

		// single label
		{"ads.x.example.", dns.TypeA, true, true, false, ""},
		{"ads.x.y.example.", dns.TypeA, false, false, false, ""},

		// staged rules are ignored, rules being replaced are not
		{"staged.example.", dns.TypeA, false, false, false, ""},
		{"leaving.example.", dns.TypeA, true, true, false, ""},

		// allow wins over block
		{"cdn.allowed.example.", dns.TypeA, true, false, true, ""},
		{"img.allowed.example.", dns.TypeA, true, true, false, ""},

		// address overrides
		{"printer.lan.", dns.TypeA, true, false, false, "10.0.0.5"},
		{"printer.lan.", dns.TypeAAAA, false, false, false, ""},
		{"dual.example.", dns.TypeA, true, false, false, "10.0.0.6"},
		{"dual.example.", dns.TypeAAAA, true, false, false, "fd00::1"},
	}
	for _, test := range tests {
		m, ok := db.Match(question(test.q, test.qtype))
		require.Equal(t, test.match, ok, "query: %s %d", test.q, test.qtype)
		if !ok {
			continue
		}
		require.Equal(t, test.blocked, m.Blocked(), "query: %s %d", test.q, test.qtype)
		require.Equal(t, test.allow, m.Allow, "query: %s %d", test.q, test.qtype)
		if test.ip != "" {
			require.Equal(t, test.ip, m.IP.String(), "query: %s %d", test.q, test.qtype)
		}
	}
}

func TestPatternExpr(t *testing.T) {
	require.Equal(t, `^.+\.sub\.example$`, patternExpr("%%.sub.example"))
	require.Equal(t, `^ads\.[^.]+\.example$`, patternExpr("ads.%.example"))
	require.Equal(t, `^ads.+\.example$`, patternExpr("ads%%.example"))
}
