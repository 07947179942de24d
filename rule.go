package ruleimport

import (
	"fmt"

	"github.com/miekg/dns"
)

// RecordType is the DNS record type a rule applies to.
type RecordType uint16

const (
	TypeA    = RecordType(dns.TypeA)
	TypeAAAA = RecordType(dns.TypeAAAA)
	TypeANY  = RecordType(dns.TypeANY)
)

// Matches returns true if the rule type applies to queries of type qtype.
func (t RecordType) Matches(qtype uint16) bool {
	return t == TypeANY || uint16(t) == qtype
}

func (t RecordType) String() string {
	return dns.Type(t).String()
}

// StagingMarker tracks a rule's position in the staged commit of an import run.
type StagingMarker int

const (
	Committed     StagingMarker = 0
	PendingDelete StagingMarker = 1
	StagedNew     StagingMarker = 2
)

// live returns true for rules that are visible to lookups.
func (m StagingMarker) live() bool {
	return m == Committed || m == PendingDelete
}

func (m StagingMarker) String() string {
	switch m {
	case Committed:
		return "committed"
	case PendingDelete:
		return "pending-delete"
	case StagedNew:
		return "staged-new"
	default:
		return fmt.Sprintf("staging(%d)", int(m))
	}
}

// Sentinel targets, stored in place of a literal address.
const (
	BlockTarget = "0"
	AllowTarget = ""
)

// Host escape markers. Stored hosts are match patterns where '%' acts as a
// wildcard.
const (
	// Prefixed to dnsmasq domains so the literal domain is matched exactly.
	// Distinguished from a leading any-depth wildcard by the missing dot.
	exactMarker = "%%"
	// Any number of labels.
	anyDepthWildcard = "%%"
	// Exactly one label.
	labelWildcard = "%"
)

// Rule maps a domain pattern to a DNS outcome.
type Rule struct {
	Type     RecordType
	Host     string
	Target   string
	TargetV6 *string // Only used by rules that don't carry an address of their own
	Source   int64   // 0 for user-defined rules
	Wildcard bool
	Staging  StagingMarker
	User     bool
}

// ruleKey is the natural key of a rule. Inserting a rule with a key that's
// already present is a no-op.
type ruleKey struct {
	host    string
	typ     RecordType
	staging StagingMarker
	source  int64
}

func (r Rule) key() ruleKey {
	return ruleKey{r.Host, r.Type, r.Staging, r.Source}
}

// IsAllow returns true if the rule lets queries pass rather than blocking or
// rewriting them.
func (r Rule) IsAllow() bool {
	return r.Target == AllowTarget
}

func (r Rule) String() string {
	return fmt.Sprintf("%s %s -> %q", r.Type, r.Host, r.Target)
}
