package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/h4mn/skybridge/pkg/queue"
)

func githubSignature(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestEvent_EventTypeCombinesHeaderAndAction(t *testing.T) {
	e := NewEvent("github", "issues", "d1", []byte(`{"action":"opened"}`))
	if e.EventType() != "issues.opened" {
		t.Fatalf("EventType() = %q, want issues.opened", e.EventType())
	}

	ping := NewEvent("github", "ping", "d2", []byte(`{}`))
	if ping.EventType() != "ping" {
		t.Fatalf("EventType() = %q, want ping", ping.EventType())
	}
}

func TestGitHubVerifier_RejectsBadSignature(t *testing.T) {
	v := GitHubVerifier{}
	payload := []byte(`{"action":"opened"}`)
	good := githubSignature("s3cret", payload)
	if !v.Verify(payload, good, "s3cret") {
		t.Fatalf("expected valid signature to verify")
	}
	if v.Verify(payload, good, "wrong-secret") {
		t.Fatalf("expected signature under wrong secret to fail")
	}
	if v.Verify(payload, "sha256=deadbeef", "s3cret") {
		t.Fatalf("expected tampered signature to fail")
	}
}

func newTestIntake(t *testing.T) (*Intake, queue.Queue, string) {
	t.Helper()
	q := queue.NewMemoryQueue(16, time.Hour)
	secret := "s3cret"
	intake := New(q, nil, map[string]SourceConfig{
		"github": {Verifier: GitHubVerifier{}, Secret: secret},
	})
	return intake, q, secret
}

func TestIntake_RejectsBadSignature(t *testing.T) {
	intake, _, _ := newTestIntake(t)
	payload := []byte(`{"action":"opened","issue":{"number":1}}`)
	out := intake.Receive("github", "issues", "d1", payload, "sha256=bad")
	if out.Accepted {
		t.Fatalf("expected rejection for bad signature")
	}
}

func TestIntake_PingIsAcceptedWithoutEnqueueing(t *testing.T) {
	intake, q, secret := newTestIntake(t)
	payload := []byte(`{}`)
	sig := githubSignature(secret, payload)
	out := intake.Receive("github", "ping", "d1", payload, sig)
	if !out.Accepted || !out.Pong {
		t.Fatalf("expected pong outcome, got %+v", out)
	}
	if size := q.Size(); size != 0 {
		t.Fatalf("ping should not enqueue a job, queue size = %d", size)
	}
}

func TestIntake_DuplicateDeliveryIsNoOp(t *testing.T) {
	intake, _, secret := newTestIntake(t)
	payload := []byte(`{"action":"opened","issue":{"number":7,"title":"bug"},"repository":{"full_name":"x/y"}}`)
	sig := githubSignature(secret, payload)

	first := intake.Receive("github", "issues", "dup-1", payload, sig)
	if !first.Accepted || first.Duplicate {
		t.Fatalf("first delivery should be accepted and non-duplicate: %+v", first)
	}
	second := intake.Receive("github", "issues", "dup-1", payload, sig)
	if !second.Accepted || !second.Duplicate {
		t.Fatalf("second delivery with same delivery id should be a no-op duplicate: %+v", second)
	}
}

func TestIntake_RejectsUnroutableEventType(t *testing.T) {
	intake, _, secret := newTestIntake(t)
	payload := []byte(`{}`)
	sig := githubSignature(secret, payload)
	out := intake.Receive("github", "star", "d3", payload, sig)
	if out.Accepted {
		t.Fatalf("expected star events to be rejected as unroutable")
	}
}

func TestAgentTypeForLabels_MatchesKnownKeywords(t *testing.T) {
	cases := map[string]string{
		"bug":        "resolve-issue",
		"review":     "review-issue",
		"release":    "publish-issue",
		"triage":     "analyze-issue",
		"irrelevant": "resolve-issue",
	}
	for label, want := range cases {
		if got := agentTypeForLabels([]string{label}); got != want {
			t.Errorf("agentTypeForLabels([%q]) = %q, want %q", label, got, want)
		}
	}
}
