// Package textsearch wraps line-oriented content search over a file set.
//
// Two dispatchers implement the same contract. ExecDispatcher invokes an
// external utility (ripgrep, falling back to grep) through a process boundary
// and normalizes its heterogeneous output into MatchRecords. ScanDispatcher
// is a pure-Go scanner for environments without an external tool; it is also
// what the tests run against, since its results are byte-offset accurate and
// machine-independent.
//
// Both fan out one task per file under a bounded worker pool and tolerate the
// "no matches" condition as an empty result, never an error. A missing or
// non-invocable tool surfaces types.ErrToolUnavailable immediately.
//
// Overlapping hits in the same file are collapsed with an interval merge that
// keeps the longest surviving variant.
package textsearch
