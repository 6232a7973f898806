// Package identity implements cryptographic session identity: a persistent
// Ed25519 root/owner keypair, signed delegation chains down to ephemeral
// sessions and sub-delegated subagents, and a revocation store consulted
// during chain verification. There is no third-party Ed25519-delegation
// library anywhere in the retrieval pack, so this is built directly on the
// standard library crypto/ed25519 primitive, in the file-permission and
// directory-resolution idiom the teacher uses for other sensitive state
// (pkg/checkpoint.Store, pkg/storage.ensurePrivateSQLiteFile).
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	agenterr "github.com/anzal1/unclaude/pkg/errors"
)

// Kind distinguishes human owners from agent-held identities.
type Kind string

const (
	KindHuman Kind = "human"
	KindAgent Kind = "agent"
)

// Identity is a named Ed25519 keypair. Private key bytes, when present, live
// only in memory (I5) — they are never serialized by this type's JSON tags.
type Identity struct {
	Kind      Kind      `json:"kind"`
	ID        string    `json:"id"` // "sha256:<hex of public key>"
	PublicKey ed25519.PublicKey `json:"-"`
	PublicKeyHex string `json:"public_key"`
	privateKey ed25519.PrivateKey
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func newIdentity(kind Kind, name string) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, agenterr.Wrap(err, agenterr.ErrCodeInternal, "generate ed25519 keypair")
	}
	return &Identity{
		Kind:         kind,
		ID:           idFromPublicKey(pub),
		PublicKey:    pub,
		PublicKeyHex: hex.EncodeToString(pub),
		privateKey:   priv,
		Name:         name,
		CreatedAt:    time.Now(),
	}, nil
}

func idFromPublicKey(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Zeroize overwrites the in-memory private key bytes.
func (id *Identity) Zeroize() {
	for i := range id.privateKey {
		id.privateKey[i] = 0
	}
}

type keyFile struct {
	Seed string `json:"seed"` // base64url of the 32-byte ed25519 seed
}

type metaFile struct {
	Kind      Kind      `json:"kind"`
	ID        string    `json:"id"`
	PublicKey string    `json:"public_key"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func loadOrCreate(dir, baseName, name string, kind Kind) (*Identity, error) {
	keyPath := filepath.Join(dir, baseName+"_key.json")
	metaPath := filepath.Join(dir, baseName+"_meta.json")

	if data, err := os.ReadFile(keyPath); err == nil {
		var kf keyFile
		if err := json.Unmarshal(data, &kf); err != nil {
			return nil, agenterr.Wrap(err, agenterr.ErrCodeIdentityInvalid, "parse "+baseName+"_key.json")
		}
		seed, err := base64.RawURLEncoding.DecodeString(kf.Seed)
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, agenterr.New(agenterr.ErrCodeIdentityInvalid, "corrupt "+baseName+" seed")
		}
		priv := ed25519.NewKeyFromSeed(seed)
		pub := priv.Public().(ed25519.PublicKey)
		id := &Identity{
			Kind: kind, ID: idFromPublicKey(pub), PublicKey: pub,
			PublicKeyHex: hex.EncodeToString(pub), privateKey: priv, Name: name,
		}
		if metaData, err := os.ReadFile(metaPath); err == nil {
			var mf metaFile
			if json.Unmarshal(metaData, &mf) == nil {
				id.CreatedAt = mf.CreatedAt
				id.Name = mf.Name
			}
		}
		return id, nil
	}

	id, err := newIdentity(kind, name)
	if err != nil {
		return nil, err
	}
	seed := id.privateKey.Seed()
	kf := keyFile{Seed: base64.RawURLEncoding.EncodeToString(seed)}
	kb, _ := json.Marshal(kf)
	if err := os.WriteFile(keyPath, kb, 0o600); err != nil {
		return nil, agenterr.Wrap(err, agenterr.ErrCodeStorageWrite, "write "+baseName+"_key.json")
	}
	mf := metaFile{Kind: id.Kind, ID: id.ID, PublicKey: id.PublicKeyHex, Name: id.Name, CreatedAt: id.CreatedAt}
	mb, _ := json.Marshal(mf)
	if err := os.WriteFile(metaPath, mb, 0o644); err != nil {
		return nil, agenterr.Wrap(err, agenterr.ErrCodeStorageWrite, "write "+baseName+"_meta.json")
	}
	return id, nil
}

// Delegation is a signed assertion granting a subset of capabilities from one
// identity to another, with expiry and chain-depth constraints.
type Delegation struct {
	DelegationID   string    `json:"delegation_id"`
	From           string    `json:"from_identity"`
	To             string    `json:"to_identity"`
	Capabilities   []string  `json:"capabilities"`
	Expires        time.Time `json:"expires"`
	MaxChainDepth  int       `json:"max_chain_depth"`
	SignerPublicKey string   `json:"signer_public_key"` // hex, carried self-contained like a macaroon caveat
	Signature      string    `json:"signature"` // base64 of ed25519 signature over the canonical payload
}

func (d Delegation) canonicalPayload() []byte {
	payload := struct {
		DelegationID  string    `json:"delegation_id"`
		From          string    `json:"from_identity"`
		To            string    `json:"to_identity"`
		Capabilities  []string  `json:"capabilities"`
		Expires       time.Time `json:"expires"`
		MaxChainDepth int       `json:"max_chain_depth"`
	}{d.DelegationID, d.From, d.To, d.Capabilities, d.Expires, d.MaxChainDepth}
	b, _ := json.Marshal(payload)
	return b
}

func signDelegation(signer *Identity, d Delegation) (Delegation, error) {
	d.SignerPublicKey = hex.EncodeToString(signer.PublicKey)
	sig := ed25519.Sign(signer.privateKey, d.canonicalPayload())
	d.Signature = base64.StdEncoding.EncodeToString(sig)
	return d, nil
}

func verifyDelegationSignature(signerPub ed25519.PublicKey, d Delegation) bool {
	sig, err := base64.StdEncoding.DecodeString(d.Signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(signerPub, d.canonicalPayload(), sig)
}

// Chain is the ordered sequence of delegations from the root down to the
// identity currently holding it.
type Chain []Delegation

// Session is an ephemeral authenticated identity anchored by a delegation
// chain back to the persistent root.
type Session struct {
	ID         string
	Identity   *Identity
	Chain      Chain
	Name       string
	Type       string
	Profile    string
	ProjectPath string
	CreatedAt  time.Time
	LastActive time.Time
	Closed     bool
}

// revocationEntry records a delegation the Manager considers invalid even if
// its signature and expiry still check out.
type revocationEntry struct {
	DelegationID string    `json:"delegation_id"`
	RevokedAt    time.Time `json:"revoked_at"`
	Reason       string    `json:"reason"`
}

// Manager is the Identity Manager (C5): it owns the root/owner keypairs,
// mints sessions and subagent delegations, verifies chains, and tracks
// revocations.
type Manager struct {
	dir   string
	mu    sync.RWMutex
	root  *Identity
	owner *Identity
	ownerToRoot Delegation

	sessions map[string]*Session
	revoked  map[string]revocationEntry
}

// NewManager loads (or bootstraps) the root and owner identities under dir.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, agenterr.Wrap(err, agenterr.ErrCodeStorageWrite, "create identity dir")
	}
	root, err := loadOrCreate(dir, "root", "root", KindAgent)
	if err != nil {
		return nil, err
	}
	owner, err := loadOrCreate(dir, "owner", "owner", KindHuman)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		dir: dir, root: root, owner: owner,
		sessions: make(map[string]*Session),
		revoked:  make(map[string]revocationEntry),
	}
	m.loadRevocations()

	delegation := Delegation{
		DelegationID:  "owner-root-" + root.ID,
		From:          owner.ID,
		To:            root.ID,
		Capabilities:  []string{"*"},
		Expires:       time.Now().Add(365 * 24 * time.Hour),
		MaxChainDepth: 5,
	}
	signed, err := signDelegation(owner, delegation)
	if err != nil {
		return nil, err
	}
	m.ownerToRoot = signed
	return m, nil
}

func (m *Manager) revocationPath() string {
	return filepath.Join(m.dir, "revocations.json")
}

func (m *Manager) loadRevocations() {
	data, err := os.ReadFile(m.revocationPath())
	if err != nil {
		return
	}
	var entries []revocationEntry
	if json.Unmarshal(data, &entries) == nil {
		for _, e := range entries {
			m.revoked[e.DelegationID] = e
		}
	}
}

func (m *Manager) persistRevocations() error {
	entries := make([]revocationEntry, 0, len(m.revoked))
	for _, e := range m.revoked {
		entries = append(entries, e)
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(m.revocationPath(), data, 0o600)
}

// CreateSession mints a fresh ephemeral identity, sub-delegates from root
// with the named profile's capabilities, and registers the session.
func (m *Manager) CreateSession(name, sessionType, profile, projectPath string, ttl time.Duration) (*Session, error) {
	ephemeral, err := newIdentity(KindAgent, name)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = defaultTTL(sessionType)
	}
	d := Delegation{
		DelegationID:  fmt.Sprintf("session-%s", ephemeral.ID),
		From:          m.root.ID,
		To:            ephemeral.ID,
		Capabilities:  []string{"profile:" + profile},
		Expires:       time.Now().Add(ttl),
		MaxChainDepth: 4,
	}
	signed, err := signDelegation(m.root, d)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:          shortID(ephemeral.ID),
		Identity:    ephemeral,
		Chain:       Chain{m.ownerToRoot, signed},
		Name:        name,
		Type:        sessionType,
		Profile:     profile,
		ProjectPath: projectPath,
		CreatedAt:   time.Now(),
		LastActive:  time.Now(),
	}
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	return sess, nil
}

// CreateSubagentDelegation sub-delegates from a parent session's identity to
// a freshly minted subagent identity. The subagent's capabilities are a
// subset of the requested ones (I6) and its TTL is capped by the parent's
// remaining TTL.
func (m *Manager) CreateSubagentDelegation(parent *Session, caps []string, ttl time.Duration) (*Session, error) {
	if len(caps) == 0 {
		caps = []string{"file:read", "file:write", "shell:execute", "memory:read"}
	}
	subagent, err := newIdentity(KindAgent, parent.Name+"-subagent")
	if err != nil {
		return nil, err
	}

	parentExpiry := parent.Chain[len(parent.Chain)-1].Expires
	maxTTL := time.Until(parentExpiry)
	if ttl <= 0 || ttl > maxTTL {
		ttl = maxTTL
	}
	d := Delegation{
		DelegationID:  fmt.Sprintf("subagent-%s", subagent.ID),
		From:          parent.Identity.ID,
		To:            subagent.ID,
		Capabilities:  caps,
		Expires:       time.Now().Add(ttl),
		MaxChainDepth: len(parent.Chain) + 1,
	}
	signed, err := signDelegation(parent.Identity, d)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:          shortID(subagent.ID),
		Identity:    subagent,
		Chain:       append(append(Chain{}, parent.Chain...), signed),
		Name:        subagent.Name,
		Type:        "subagent",
		Profile:     "subagent",
		ProjectPath: parent.ProjectPath,
		CreatedAt:   time.Now(),
		LastActive:  time.Now(),
	}
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	return sess, nil
}

// GetSession returns a registered session by id.
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// EndSession closes a session and zeroizes its in-memory private key.
func (m *Manager) EndSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.Closed = true
		s.Identity.Zeroize()
	}
}

// VerifySessionChain verifies every signature in the chain, checks expiry,
// and consults the revocation store for each link.
func (m *Manager) VerifySessionChain(s *Session) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.verifyChainLocked(s.Chain, s.Identity)
}

func (m *Manager) verifyChainLocked(chain Chain, finalIdentity *Identity) bool {
	if len(chain) == 0 {
		return false
	}
	signers := []*Identity{m.owner, m.root}
	resolvePublicKey := func(id string) []byte {
		for _, candidate := range signers {
			if candidate.ID == id {
				return candidate.PublicKey
			}
		}
		return nil
	}

	for i, d := range chain {
		if _, revoked := m.revoked[d.DelegationID]; revoked {
			return false
		}
		if time.Now().After(d.Expires) {
			return false
		}
		var signerPub []byte
		if i == 0 {
			signerPub = m.owner.PublicKey
		} else {
			signerPub = resolvePublicKey(d.From)
			if signerPub == nil {
				// The signer of link i is the "to" identity of link i-1.
				signerPub = nil
			}
		}
		if i > 0 && chain[i-1].To != d.From {
			return false
		}
		if i == 0 {
			if !verifyDelegationSignature(signerPub, d) {
				return false
			}
			continue
		}
		// Intermediate identities may be zeroized, so non-root links are
		// verified against the signer public key carried in the delegation,
		// which must hash to the link's From id.
		pub, err := hex.DecodeString(d.SignerPublicKey)
		if err != nil || len(pub) != ed25519.PublicKeySize || idFromPublicKey(pub) != d.From {
			return false
		}
		if !verifyDelegationSignature(pub, d) {
			return false
		}
	}
	return true
}

// RevokeSession appends a revocation entry for the session's last delegation
// and ends the session.
func (m *Manager) RevokeSession(id, reason string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return agenterr.New(agenterr.ErrCodeIdentityInvalid, "unknown session").WithContext("session_id", id)
	}
	last := sess.Chain[len(sess.Chain)-1]
	m.revoked[last.DelegationID] = revocationEntry{DelegationID: last.DelegationID, RevokedAt: time.Now(), Reason: reason}
	sess.Closed = true
	sess.Identity.Zeroize()
	m.mu.Unlock()
	return m.persistRevocations()
}

// ListSessions returns a snapshot of registered sessions, pruning expired ones.
func (m *Manager) ListSessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupExpiredLocked()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func (m *Manager) cleanupExpiredLocked() {
	now := time.Now()
	for id, s := range m.sessions {
		last := s.Chain[len(s.Chain)-1]
		if now.After(last.Expires) {
			delete(m.sessions, id)
		}
	}
}

// IdentityCard is the public-only export of an identity: no field here may
// carry private key material.
type IdentityCard struct {
	ID        string    `json:"id"`
	PublicKey string    `json:"public_key"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ExportIdentityCard returns public-key-only material for the root identity.
func (m *Manager) ExportIdentityCard() IdentityCard {
	return IdentityCard{
		ID:        m.root.ID,
		PublicKey: m.root.PublicKeyHex,
		Name:      m.root.Name,
		CreatedAt: m.root.CreatedAt,
	}
}

func defaultTTL(sessionType string) time.Duration {
	switch sessionType {
	case "interactive":
		return 8 * time.Hour
	case "autonomous":
		return 24 * time.Hour
	case "subagent":
		return time.Hour
	case "api":
		return 30 * 24 * time.Hour
	case "daemon":
		return 7 * 24 * time.Hour
	default:
		return 8 * time.Hour
	}
}

func shortID(full string) string {
	if len(full) > 15 {
		return full[len(full)-12:]
	}
	return full
}
