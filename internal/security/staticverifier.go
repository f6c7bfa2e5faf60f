package security

import "github.com/arbiter-hq/arbiter/internal/arberr"

// StaticVerifier resolves tokens from a fixed, config-loaded map. It is
// meant for single-operator or trusted-network deployments where an
// external identity provider is overkill; anything that needs rotation or
// revocation should implement TokenVerifier against a real IdP instead.
type StaticVerifier struct {
	identities map[string]Identity
}

// NewStaticVerifier builds a verifier from a token->Identity map. The
// caller owns the map's lifetime; StaticVerifier never mutates it.
func NewStaticVerifier(identities map[string]Identity) *StaticVerifier {
	return &StaticVerifier{identities: identities}
}

func (v *StaticVerifier) Verify(token string) (Identity, error) {
	identity, ok := v.identities[token]
	if !ok {
		return Identity{}, arberr.New(arberr.KindUnauthorized, "bad_token", "unknown token")
	}
	return identity, nil
}
