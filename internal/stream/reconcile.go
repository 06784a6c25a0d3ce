package stream

import "strings"

// OverlapThresholdDivisor sets how much of the cumulative text an
// incoming fragment must share before the shared prefix is treated as a
// resend rather than a coincidence. A common prefix longer than
// len(cumulative)/OverlapThresholdDivisor discards the prefix and keeps
// the tail. This is a heuristic, not a guaranteed-correct answer for
// arbitrary resend patterns.
const OverlapThresholdDivisor = 2

// Reconcile returns the net-new suffix of incoming relative to the
// cumulative text already applied to a message. It defends against
// backends that duplicate fragments, re-send a growing cumulative
// string, or partially overlap the tail of what was already sent.
// Pure and deterministic.
func Reconcile(cumulative, incoming string) string {
	if incoming == "" {
		return ""
	}
	if cumulative == "" {
		return incoming
	}

	// Exact duplicate or a subset we already hold.
	if strings.HasSuffix(cumulative, incoming) {
		return ""
	}

	// Growing-cumulative backend: incoming re-sends everything so far
	// plus the new tail.
	if len(incoming) > len(cumulative) && strings.HasPrefix(incoming, cumulative) {
		return incoming[len(cumulative):]
	}

	// Partial resend: a long shared prefix means the overlap is a
	// retransmission, not new text.
	i := commonPrefixLen(cumulative, incoming)
	if i > len(cumulative)/OverlapThresholdDivisor {
		return incoming[i:]
	}

	// Genuinely disjoint delta, the common case.
	return incoming
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
