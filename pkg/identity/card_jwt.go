package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// cardClaims wraps IdentityCard's public-only fields as JWT claims, so a
// card can be handed to an external verifier without that verifier needing
// to speak the raw Ed25519 delegation format used internally (§4.5).
type cardClaims struct {
	jwt.RegisteredClaims
	PublicKey string `json:"public_key"`
	Name      string `json:"name"`
}

// ExportSignedIdentityCard returns the root identity card as a JWT using
// the EdDSA algorithm, signed with the owner identity's Ed25519 key — the
// same keypair that signs delegation chains, reused here for transport
// signing rather than minting a second key purely for this export.
func (m *Manager) ExportSignedIdentityCard() (string, error) {
	card := m.ExportIdentityCard()
	claims := cardClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   card.ID,
			IssuedAt:  jwt.NewNumericDate(card.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
		PublicKey: card.PublicKey,
		Name:      card.Name,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(m.owner.privateKey)
}

// VerifySignedIdentityCard checks a card JWT's EdDSA signature against the
// owner identity's public key and returns the claims on success.
func (m *Manager) VerifySignedIdentityCard(tokenString string) (*IdentityCard, error) {
	var claims cardClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return m.owner.privateKey.Public(), nil
	})
	if err != nil {
		return nil, err
	}
	return &IdentityCard{
		ID:        claims.Subject,
		PublicKey: claims.PublicKey,
		Name:      claims.Name,
		CreatedAt: claims.IssuedAt.Time,
	}, nil
}
