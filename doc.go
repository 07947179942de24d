/*
Package ruleimport refreshes a local DNS rule database from a set of block
and allow list sources.

Sources

Sources are local files or HTTP(S) URLs. Remote sources are fetched
conditionally, an unchanged list keeps its rules from the previous run.

Detection

Lists don't declare their format. The line parser tests every line against
a fixed set of grammars (dnsmasq, hosts, plain domains and adblock filters),
drops those that keep failing and locks in the one that keeps matching.

Staging

Rules are written next to the existing ones and only swapped in once every
source has been processed. An aborted or failed run leaves the database as it
was. The run is journaled in the store so an interrupted run is completed or
rolled back on the next start.

Lookup

RuleDB answers DNS questions from the live rules. Rules of a run in
progress stay hidden until it commits.
*/
package ruleimport
