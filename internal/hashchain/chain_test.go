package hashchain

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/lzjever/mbos-atl/internal/core"
)

func testEvent(seq int64, prev string) *core.AuditEvent {
	e := &core.AuditEvent{
		EventID:       fmt.Sprintf("evt-%d", seq),
		EventTS:       time.Date(2026, 8, 12, 10, 0, int(seq), 0, time.UTC),
		TenantID:      "tenant-a",
		EventType:     "order.approved",
		Severity:      core.SeverityInfo,
		SchemaVersion: 1,
		Actor:         json.RawMessage(`{"name":"alice","role":"approver"}`),
		ActorID:       "user-1",
		Action:        "approve",
		Detail:        json.RawMessage(`{"amount":100,"currency":"EUR"}`),
		ChainSeq:      seq,
		HashPrev:      prev,
	}
	e.HashCurr = Compute(e, prev)
	return e
}

func buildChain(n int) []*core.AuditEvent {
	prev := Genesis("tenant-a")
	events := make([]*core.AuditEvent, 0, n)
	for i := 1; i <= n; i++ {
		e := testEvent(int64(i), prev)
		events = append(events, e)
		prev = e.HashCurr
	}
	return events
}

func TestCanonicalize_Deterministic(t *testing.T) {
	e := testEvent(1, Genesis("tenant-a"))
	if string(Canonicalize(e)) != string(Canonicalize(e)) {
		t.Fatal("same event produced different canonical bytes")
	}
}

func TestCanonicalize_PayloadKeyOrderIrrelevant(t *testing.T) {
	e1 := testEvent(1, Genesis("tenant-a"))
	e2 := testEvent(1, Genesis("tenant-a"))
	e2.Actor = json.RawMessage(`{"role":"approver","name":"alice"}`)
	if string(Canonicalize(e1)) != string(Canonicalize(e2)) {
		t.Fatal("payload key order changed canonical form")
	}
}

func TestCanonicalize_ContentSensitive(t *testing.T) {
	e1 := testEvent(1, Genesis("tenant-a"))
	e2 := testEvent(1, Genesis("tenant-a"))
	e2.Action = "reject"
	if string(Canonicalize(e1)) == string(Canonicalize(e2)) {
		t.Fatal("different content produced same canonical form")
	}
}

func TestGenesis_PerTenant(t *testing.T) {
	if Genesis("tenant-a") == Genesis("tenant-b") {
		t.Fatal("genesis must differ per tenant")
	}
	if Genesis("tenant-a") != Genesis("tenant-a") {
		t.Fatal("genesis must be stable")
	}
}

// Replaying the chain from genesis and recomputing digests reproduces every
// stored hash_curr exactly.
func TestVerifyChain_ReplayReproducesHashes(t *testing.T) {
	events := buildChain(50)
	prev := Genesis("tenant-a")
	for i, e := range events {
		recomputed := Compute(e, prev)
		if recomputed != e.HashCurr {
			t.Fatalf("event %d: replay hash %s != stored %s", i, recomputed, e.HashCurr)
		}
		prev = e.HashCurr
	}
	if bad := VerifyChain(events, Genesis("tenant-a")); bad != "" {
		t.Fatalf("intact chain reported violation at %s", bad)
	}
}

func TestVerifyChain_DetectsContentTamper(t *testing.T) {
	events := buildChain(3)
	events[1].Action = "tampered"
	bad := VerifyChain(events, Genesis("tenant-a"))
	if bad != "evt-2" {
		t.Fatalf("expected first violation evt-2, got %q", bad)
	}
}

func TestVerifyChain_DetectsRemovedEvent(t *testing.T) {
	events := buildChain(3)
	// Drop the middle event: e3's hash_prev no longer matches e1's hash_curr.
	gapped := []*core.AuditEvent{events[0], events[2]}
	bad := VerifyChain(gapped, Genesis("tenant-a"))
	if bad != "evt-3" {
		t.Fatalf("expected violation at evt-3 after gap, got %q", bad)
	}
}

func TestVerifyChain_DetectsRelinkedChain(t *testing.T) {
	events := buildChain(3)
	// Rewrite e2 and recompute its hash so it self-verifies, but leave e3
	// pointing at the old hash. Linkage check must catch it.
	events[1].Action = "tampered"
	events[1].HashCurr = Compute(events[1], events[1].HashPrev)
	bad := VerifyChain(events, Genesis("tenant-a"))
	if bad != "evt-3" {
		t.Fatalf("expected violation at evt-3, got %q", bad)
	}
}
