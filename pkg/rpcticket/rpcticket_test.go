package rpcticket

import (
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

func TestIssueThenRedeem_SucceedsOnce(t *testing.T) {
	issuer := New()
	id, err := issuer.Issue("run_skill")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := issuer.Redeem(id, "run_skill"); err != nil {
		t.Fatalf("first redemption should succeed: %v", err)
	}
	if err := issuer.Redeem(id, "run_skill"); err == nil {
		t.Fatalf("second redemption of the same ticket should fail")
	}
}

func TestRedeem_RejectsMethodMismatch(t *testing.T) {
	issuer := New()
	id, err := issuer.Issue("run_skill")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := issuer.Redeem(id, "other_method"); err == nil {
		t.Fatalf("expected rejection for a ticket redeemed against the wrong method")
	}
}

func TestRedeem_RejectsExpiredTicket(t *testing.T) {
	issuer := New()
	issuer.ttl = time.Millisecond
	id, err := issuer.Issue("run_skill")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := issuer.Redeem(id, "run_skill"); err == nil {
		t.Fatalf("expected rejection for an expired ticket")
	}
}

func TestRedeem_RejectsUnknownTicket(t *testing.T) {
	issuer := New()
	if err := issuer.Redeem("does-not-exist", "run_skill"); err == nil {
		t.Fatalf("expected rejection for an unknown ticket id")
	}
}

func TestStampRedemption_AddsTicketMetadataWithoutDisturbingExistingFields(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	stamped, err := StampRedemption([]byte(`{"method":"run_skill","args":{"x":1}}`), "tkt-123", at)
	if err != nil {
		t.Fatalf("StampRedemption: %v", err)
	}
	if gjson.GetBytes(stamped, "method").String() != "run_skill" {
		t.Fatalf("original field lost: %s", stamped)
	}
	if gjson.GetBytes(stamped, "_ticket.id").String() != "tkt-123" {
		t.Fatalf("ticket id not stamped: %s", stamped)
	}
	if gjson.GetBytes(stamped, "_ticket.redeemed_at").String() != "2026-01-02T03:04:05Z" {
		t.Fatalf("redeemed_at not stamped: %s", stamped)
	}
}
