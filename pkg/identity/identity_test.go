package identity

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestSessionChainVerifies(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	sess, err := m.CreateSession("agent-1", "interactive", "developer", "/proj", 0)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if !m.VerifySessionChain(sess) {
		t.Fatalf("expected a freshly minted session chain to verify")
	}
}

func TestIdentityPersistsAcrossManagerReconstruction(t *testing.T) {
	dir := t.TempDir()
	m1, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	rootID1 := m1.ExportIdentityCard().ID

	m2, err := NewManager(dir)
	if err != nil {
		t.Fatalf("second NewManager() error = %v", err)
	}
	rootID2 := m2.ExportIdentityCard().ID

	if rootID1 != rootID2 {
		t.Fatalf("expected the root identity to persist across reconstruction: %s != %s", rootID1, rootID2)
	}
}

func TestRevokeSessionInvalidatesChain(t *testing.T) {
	m, _ := NewManager(t.TempDir())
	sess, _ := m.CreateSession("agent-1", "interactive", "developer", "/proj", time.Hour)

	if !m.VerifySessionChain(sess) {
		t.Fatalf("expected chain to verify before revocation")
	}
	if err := m.RevokeSession(sess.ID, "compromised token"); err != nil {
		t.Fatalf("RevokeSession() error = %v", err)
	}
	if m.VerifySessionChain(sess) {
		t.Fatalf("expected chain to fail verification after revocation")
	}
	if !sess.Closed {
		t.Errorf("expected session to be marked closed")
	}
}

func TestRevocationPersistsAcrossManagerReconstruction(t *testing.T) {
	dir := t.TempDir()
	m1, _ := NewManager(dir)
	sess, _ := m1.CreateSession("agent-1", "interactive", "developer", "/proj", time.Hour)
	if err := m1.RevokeSession(sess.ID, "test"); err != nil {
		t.Fatalf("RevokeSession() error = %v", err)
	}

	m2, _ := NewManager(dir)
	if m2.VerifySessionChain(sess) {
		t.Fatalf("expected revocation to persist to a freshly constructed manager")
	}
}

func TestExpiredSessionFailsVerification(t *testing.T) {
	m, _ := NewManager(t.TempDir())
	sess, err := m.CreateSession("agent-1", "interactive", "developer", "/proj", time.Nanosecond)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	time.Sleep(time.Millisecond)
	if m.VerifySessionChain(sess) {
		t.Fatalf("expected an expired session chain to fail verification")
	}
}

func TestSubagentChainLongerThanParent(t *testing.T) {
	m, _ := NewManager(t.TempDir())
	parent, _ := m.CreateSession("agent-1", "autonomous", "autonomous", "/proj", time.Hour)
	sub, err := m.CreateSubagentDelegation(parent, []string{"file:read"}, 0)
	if err != nil {
		t.Fatalf("CreateSubagentDelegation() error = %v", err)
	}
	if len(sub.Chain) <= len(parent.Chain) {
		t.Fatalf("expected subagent chain (%d) to be strictly longer than parent chain (%d)", len(sub.Chain), len(parent.Chain))
	}
	if !m.VerifySessionChain(sub) {
		t.Fatalf("expected subagent chain to verify")
	}
}

func TestSubagentTTLCappedByParentExpiry(t *testing.T) {
	m, _ := NewManager(t.TempDir())
	parent, _ := m.CreateSession("agent-1", "interactive", "developer", "/proj", time.Minute)
	sub, err := m.CreateSubagentDelegation(parent, []string{"file:read"}, 24*time.Hour)
	if err != nil {
		t.Fatalf("CreateSubagentDelegation() error = %v", err)
	}
	subExpiry := sub.Chain[len(sub.Chain)-1].Expires
	parentExpiry := parent.Chain[len(parent.Chain)-1].Expires
	if subExpiry.After(parentExpiry.Add(time.Second)) {
		t.Fatalf("expected subagent TTL to be capped at the parent's remaining TTL, got subagent expiry %v vs parent %v", subExpiry, parentExpiry)
	}
}

func TestIdentityCardHasNoPrivateMaterial(t *testing.T) {
	m, _ := NewManager(t.TempDir())
	card := m.ExportIdentityCard()
	b, err := json.Marshal(card)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	lower := strings.ToLower(string(b))
	for _, bad := range []string{"private", "seed", "secret"} {
		if strings.Contains(lower, bad) {
			t.Errorf("identity card JSON must not contain %q: %s", bad, b)
		}
	}
}

func TestSignedIdentityCardRoundTrips(t *testing.T) {
	m, _ := NewManager(t.TempDir())
	tokenString, err := m.ExportSignedIdentityCard()
	if err != nil {
		t.Fatalf("ExportSignedIdentityCard() error = %v", err)
	}
	card, err := m.VerifySignedIdentityCard(tokenString)
	if err != nil {
		t.Fatalf("VerifySignedIdentityCard() error = %v", err)
	}
	if card.ID != m.root.ID || card.PublicKey != m.root.PublicKeyHex {
		t.Errorf("round-tripped card = %+v, want root identity %s/%s", card, m.root.ID, m.root.PublicKeyHex)
	}
}

func TestSignedIdentityCardRejectsTampering(t *testing.T) {
	m, _ := NewManager(t.TempDir())
	tokenString, _ := m.ExportSignedIdentityCard()
	tampered := tokenString[:len(tokenString)-4] + "abcd"
	if _, err := m.VerifySignedIdentityCard(tampered); err == nil {
		t.Fatalf("expected a tampered card JWT to fail verification")
	}
}

func TestEndSessionZeroizesPrivateKey(t *testing.T) {
	m, _ := NewManager(t.TempDir())
	sess, _ := m.CreateSession("agent-1", "interactive", "developer", "/proj", time.Hour)
	m.EndSession(sess.ID)
	if !sess.Closed {
		t.Fatalf("expected session to be closed")
	}
	zero := true
	for _, b := range sess.Identity.privateKey {
		if b != 0 {
			zero = false
			break
		}
	}
	if !zero {
		t.Errorf("expected EndSession to zeroize the private key bytes")
	}
}
