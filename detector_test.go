package ruleimport

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// recordingWriter collects all flushed batches.
type recordingWriter struct {
	batches [][]Rule
	fail    error
}

func (w *recordingWriter) Insert(ctx context.Context, rules []Rule) (int, error) {
	if w.fail != nil {
		return 0, w.fail
	}
	w.batches = append(w.batches, append([]Rule(nil), rules...))
	return len(rules), nil
}

func (w *recordingWriter) rules() []Rule {
	var all []Rule
	for _, b := range w.batches {
		all = append(all, b...)
	}
	return all
}

func (w *recordingWriter) hosts() []string {
	var hosts []string
	for _, r := range w.rules() {
		hosts = append(hosts, r.Host)
	}
	return hosts
}

var (
	testBlocklist = Source{ID: 1, Name: "blocklist", Location: "https://lists.example/block.txt", Enabled: true}
	testWhitelist = Source{ID: 2, Name: "whitelist", Location: "/etc/lists/allow.txt", Enabled: true, Whitelist: true}
	testLocal     = Source{ID: 3, Name: "local", Location: "/etc/lists/block.txt", Enabled: true}
)

func parseString(t *testing.T, src Source, content string) (*recordingWriter, int, error) {
	t.Helper()
	w := new(recordingWriter)
	n, err := parseSource(context.Background(), src, strings.NewReader(content), w)
	return w, n, err
}

func TestParseExactBlock(t *testing.T) {
	w, n, err := parseString(t, testBlocklist, "address=/ads.example.com/\n")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	rules := w.rules()
	require.Len(t, rules, 1)
	r := rules[0]
	require.Equal(t, "%%ads.example.com", r.Host)
	require.Equal(t, TypeANY, r.Type)
	require.Equal(t, BlockTarget, r.Target)
	require.NotNil(t, r.TargetV6)
	require.Equal(t, BlockTarget, *r.TargetV6)
	require.Equal(t, StagedNew, r.Staging)
	require.Equal(t, int64(1), r.Source)
}

func TestParseExactBlockWildcard(t *testing.T) {
	w, n, err := parseString(t, testBlocklist, "address=/*.ads.example/\naddress=/tracker.example/\n")
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []string{"ads.example", "%%.ads.example", "%%tracker.example"}, w.hosts())

	db, err := NewRuleDB(withStaging(w.rules(), Committed))
	require.NoError(t, err)
	_, ok := db.Match(question("ads.example.", 1))
	require.True(t, ok)
	_, ok = db.Match(question("a.b.ads.example.", 1))
	require.True(t, ok)
	_, ok = db.Match(question("xads.example.", 1))
	require.False(t, ok)
	_, ok = db.Match(question("sub.tracker.example.", 1))
	require.False(t, ok)
}

func TestParseTargetedWildcard(t *testing.T) {
	w, _, err := parseString(t, testLocal, "address=/*.printer.lan/10.0.0.5\n")
	require.NoError(t, err)
	require.Equal(t, []string{"%.printer.lan"}, w.hosts())
	require.Equal(t, "10.0.0.5", w.rules()[0].Target)
}

func withStaging(rules []Rule, staging StagingMarker) []Rule {
	for i := range rules {
		rules[i].Staging = staging
	}
	return rules
}

func TestParseHosts(t *testing.T) {
	w, n, err := parseString(t, testBlocklist, "0.0.0.0 www.tracker.net\n")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	r := w.rules()[0]
	require.Equal(t, "tracker.net", r.Host)
	require.Equal(t, TypeA, r.Type)
	require.Equal(t, BlockTarget, r.Target)
	require.False(t, r.Wildcard)
}

func TestParseHostsTargets(t *testing.T) {
	content := `
# comment
127.0.0.1 localhost.example
::1 ip6-localhost.example
:: null6.example
192.168.1.10 router.example
fd00::10 nas.example
`
	w, _, err := parseString(t, testBlocklist, content)
	require.NoError(t, err)
	rules := w.rules()
	require.Len(t, rules, 5)

	byHost := make(map[string]Rule)
	for _, r := range rules {
		byHost[r.Host] = r
	}
	require.Equal(t, AllowTarget, byHost["localhost.example"].Target)
	require.Equal(t, TypeA, byHost["localhost.example"].Type)
	require.Equal(t, AllowTarget, byHost["ip6-localhost.example"].Target)
	require.Equal(t, TypeAAAA, byHost["ip6-localhost.example"].Type)
	require.Equal(t, BlockTarget, byHost["null6.example"].Target)
	require.Equal(t, "192.168.1.10", byHost["router.example"].Target)
	require.Equal(t, "fd00::10", byHost["nas.example"].Target)
	require.Equal(t, TypeAAAA, byHost["nas.example"].Type)
}

func TestParseHostsWhitelist(t *testing.T) {
	w, _, err := parseString(t, testWhitelist, "0.0.0.0 www.cdn.example\n")
	require.NoError(t, err)
	r := w.rules()[0]
	require.Equal(t, "cdn.example", r.Host)
	require.Equal(t, TypeANY, r.Type)
	require.True(t, r.IsAllow())
}

func TestParseTargeted(t *testing.T) {
	content := "address=/www.printer.lan/10.0.0.5\naddress=/nas.lan/fd00::5/\n"
	w, n, err := parseString(t, testLocal, content)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	rules := w.rules()
	require.Equal(t, "%%printer.lan", rules[0].Host)
	require.Equal(t, "10.0.0.5", rules[0].Target)
	require.Equal(t, TypeA, rules[0].Type)
	require.Nil(t, rules[0].TargetV6)
	require.Equal(t, "%%nas.lan", rules[1].Host)
	require.Equal(t, TypeAAAA, rules[1].Type)
}

func TestParseRemoteWildcard(t *testing.T) {
	w, n, err := parseString(t, testBlocklist, "*.ads.example.com\n")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	rules := w.rules()
	require.Len(t, rules, 2)
	require.Equal(t, []string{"ads.example.com", "%%.ads.example.com"}, w.hosts())
	for _, r := range rules {
		require.Equal(t, TypeANY, r.Type)
		require.True(t, r.Wildcard)
	}
}

func TestParseDomainsAndFilterList(t *testing.T) {
	w, _, err := parseString(t, testBlocklist, "www.Example.COM\ntracker.example # comment\n")
	require.NoError(t, err)
	require.Equal(t, []string{"example.com", "tracker.example"}, w.hosts())

	w, _, err = parseString(t, testBlocklist, "! title\n||ads.example^\n||www.pixel.example^$third-party\n")
	require.NoError(t, err)
	require.Equal(t, []string{"ads.example"}, w.hosts())
}

func TestParseIDN(t *testing.T) {
	w, _, err := parseString(t, testBlocklist, "0.0.0.0 bücher.example\n")
	require.NoError(t, err)
	require.Equal(t, []string{"xn--bcher-kva.example"}, w.hosts())
}

func TestParseLockIn(t *testing.T) {
	// Once the domain grammar matched 36 lines, filter list lines are ignored
	// instead of being parsed by a competing grammar.
	var b strings.Builder
	for i := 0; i < 36; i++ {
		fmt.Fprintf(&b, "host%d.example\n", i)
	}
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "||filter%d.example^\n", i)
	}
	b.WriteString("last.example\n")
	w, n, err := parseString(t, testBlocklist, b.String())
	require.NoError(t, err)
	require.Equal(t, 37, n)
	require.NotContains(t, w.hosts(), "filter0.example")
	require.Contains(t, w.hosts(), "last.example")
}

func TestParseBeforeLockIn(t *testing.T) {
	// Before lock-in, a line that doesn't match the leading grammar can still
	// be picked up by another candidate.
	var b strings.Builder
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "host%d.example\n", i)
	}
	b.WriteString("||filter.example^\n")
	w, n, err := parseString(t, testBlocklist, b.String())
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.Contains(t, w.hosts(), "filter.example")
}

func TestParseUnrecognized(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 3; i++ {
		fmt.Fprintf(&b, "host%d.example\n", i)
	}
	// Matches no grammar. The domain grammar survives the first five.
	for i := 0; i < 6; i++ {
		b.WriteString("<html>\n")
	}
	b.WriteString("after.example\n")
	w, n, err := parseString(t, testBlocklist, b.String())
	require.ErrorIs(t, err, ErrUnrecognizedFormat)
	require.Equal(t, 3, n)
	require.Equal(t, []string{"host0.example", "host1.example", "host2.example"}, w.hosts())
}

func TestParseEliminationIsPerSource(t *testing.T) {
	// Counters don't carry over from one source to the next.
	_, _, err := parseString(t, testBlocklist, strings.Repeat("host.example\n", 40))
	require.NoError(t, err)
	w, n, err := parseString(t, testBlocklist, "0.0.0.0 a.example\n")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, TypeA, w.rules()[0].Type)
}

func TestParseFlush(t *testing.T) {
	var b strings.Builder
	for i := 0; i < flushLines+5; i++ {
		fmt.Fprintf(&b, "host%d.example\n", i)
	}
	w, n, err := parseString(t, testBlocklist, b.String())
	require.NoError(t, err)
	require.Equal(t, flushLines+5, n)
	require.Len(t, w.batches, 2)
	require.Len(t, w.batches[0], flushLines+1)
	require.Len(t, w.batches[1], 4)
}

func TestParseAbort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := new(recordingWriter)
	n, err := parseSource(ctx, testBlocklist, strings.NewReader("a.example\nb.example\n"), w)
	require.ErrorIs(t, err, ErrAborted)
	require.Zero(t, n)
	require.Empty(t, w.batches)
}

func TestParseWriteError(t *testing.T) {
	w := &recordingWriter{fail: storeErr("insert", fmt.Errorf("disk full"))}
	_, err := parseSource(context.Background(), testBlocklist, strings.NewReader("a.example\n"), w)
	require.Error(t, err)
	require.True(t, IsStoreError(err))
}
