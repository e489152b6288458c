// Package hashchain computes and verifies the per-tenant tamper-evidence
// chain over audit events. Each event's digest covers its own canonical
// content and its predecessor's digest, so any retroactive edit breaks the
// chain from that point forward.
package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/lzjever/mbos-atl/internal/core"
)

const Prefix = "sha256:"

// Genesis returns the hash_prev value for a tenant's first event.
func Genesis(tenant string) string {
	sum := sha256.Sum256([]byte("atl-genesis|" + tenant))
	return Prefix + hex.EncodeToString(sum[:])
}

// Compute returns the digest for e chained onto prev:
// SHA-256(canonical(e) | prev).
func Compute(e *core.AuditEvent, prev string) string {
	h := sha256.New()
	h.Write(Canonicalize(e))
	fmt.Fprintf(h, "|%s", prev)
	return Prefix + hex.EncodeToString(h.Sum(nil))
}

// VerifyOne recomputes e's digest from its stored content and stored
// hash_prev and compares it to the stored hash_curr.
func VerifyOne(e *core.AuditEvent) bool {
	return Compute(e, e.HashPrev) == e.HashCurr
}

// VerifyChain walks events (which must be in chain order) checking both the
// per-event digest and the linkage to the immediate predecessor. prev is the
// hash_curr of the event preceding the slice, or the genesis value. It
// returns the event_id of the first divergent event, or "" if the chain is
// intact.
func VerifyChain(events []*core.AuditEvent, prev string) string {
	for _, e := range events {
		if e.HashPrev != prev {
			return e.EventID
		}
		if !VerifyOne(e) {
			return e.EventID
		}
		prev = e.HashCurr
	}
	return ""
}
