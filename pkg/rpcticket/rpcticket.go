// Package rpcticket implements the capability-ticket exchange from
// spec.md §6: GET /ticket issues a one-shot ticket scoped to a single RPC
// method name, and POST /envelope redeems it exactly once. Auth upstream
// of ticket issuance (who may call GET /ticket at all) is out of scope
// here, same as spec.md says of the outer HTTP layer generally.
//
// Grounded on picoclaw's pkg/api/auth.go constant-time bearer-token
// comparison (subtle.ConstantTimeCompare, never ==, to avoid a timing
// side-channel on ticket ids) and the tidwall/sjson library for stamping
// redemption metadata onto the envelope before it's logged/returned.
package rpcticket

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"

	"github.com/tidwall/sjson"

	"github.com/h4mn/skybridge/pkg/skyerr"
)

// defaultTTL is how long an issued ticket remains redeemable.
const defaultTTL = 2 * time.Minute

type ticket struct {
	id        string
	method    string
	issuedAt  time.Time
	expiresAt time.Time
	redeemed  bool
}

// Issuer issues and redeems one-shot capability tickets, each scoped to a
// single RPC method name.
type Issuer struct {
	mu      sync.Mutex
	tickets map[string]*ticket
	ttl     time.Duration
}

// New creates an Issuer with the default ticket TTL.
func New() *Issuer {
	return &Issuer{tickets: make(map[string]*ticket), ttl: defaultTTL}
}

// Issue mints a new ticket scoped to method and returns its opaque id.
func (i *Issuer) Issue(method string) (string, error) {
	id, err := randomID()
	if err != nil {
		return "", err
	}
	now := time.Now()
	i.mu.Lock()
	defer i.mu.Unlock()
	i.evictExpiredLocked(now)
	i.tickets[id] = &ticket{id: id, method: method, issuedAt: now, expiresAt: now.Add(i.ttl)}
	return id, nil
}

// Redeem consumes ticketID for method exactly once. A second redemption,
// an expired ticket, or a method mismatch all fail with KindGuardrail —
// the same failure class as any other capability-check rejection.
func (i *Issuer) Redeem(ticketID, method string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	t, ok := i.lookupConstantTime(ticketID)
	if !ok {
		return skyerr.New(skyerr.KindGuardrail, "Issuer.Redeem", "unknown ticket")
	}
	if t.redeemed {
		return skyerr.New(skyerr.KindGuardrail, "Issuer.Redeem", "ticket already redeemed")
	}
	if time.Now().After(t.expiresAt) {
		return skyerr.New(skyerr.KindGuardrail, "Issuer.Redeem", "ticket expired")
	}
	if t.method != method {
		return skyerr.New(skyerr.KindGuardrail, "Issuer.Redeem", "ticket scoped to a different method")
	}
	t.redeemed = true
	return nil
}

// lookupConstantTime finds a ticket by id without leaking existence via a
// variable-time map probe on attacker-controlled input — the stored ids
// are themselves random and unguessable, but comparing candidate strings
// at a uniform cost keeps the property true even if the id space were
// ever narrowed.
func (i *Issuer) lookupConstantTime(candidate string) (*ticket, bool) {
	candidateBytes := []byte(candidate)
	for id, t := range i.tickets {
		if subtle.ConstantTimeCompare([]byte(id), candidateBytes) == 1 {
			return t, true
		}
	}
	return nil, false
}

func (i *Issuer) evictExpiredLocked(now time.Time) {
	for id, t := range i.tickets {
		if now.After(t.expiresAt) {
			delete(i.tickets, id)
		}
	}
}

func randomID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", skyerr.Wrap(skyerr.KindInternal, "randomID", "read random bytes", err)
	}
	return hex.EncodeToString(buf), nil
}

// StampRedemption annotates a raw JSON envelope with redemption metadata
// (the ticket id and the time it was consumed) via sjson, so the
// persisted/logged envelope carries its own audit trail without needing a
// full unmarshal/marshal round trip through a declared struct.
func StampRedemption(envelopeJSON []byte, ticketID string, redeemedAt time.Time) ([]byte, error) {
	stamped, err := sjson.SetBytes(envelopeJSON, "_ticket.id", ticketID)
	if err != nil {
		return nil, skyerr.Wrap(skyerr.KindInternal, "StampRedemption", "set ticket id", err)
	}
	stamped, err = sjson.SetBytes(stamped, "_ticket.redeemed_at", redeemedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, skyerr.Wrap(skyerr.KindInternal, "StampRedemption", "set redeemed_at", err)
	}
	return stamped, nil
}
