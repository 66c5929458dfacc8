package identity

import (
	"context"
	"crypto"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
)

// An OIDCVerifier verifies the ID tokens issued by an external OpenID Connect provider.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer and returns a verifier of its ID tokens for the given client.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, errors.Wrapf(err, "could not discover %s", issuer)
	}

	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// NewStaticOIDCVerifier returns a verifier checking the tokens against the given public keys.
func NewStaticOIDCVerifier(issuer, clientID string, keys ...crypto.PublicKey) *OIDCVerifier {
	keyset := &oidc.StaticKeySet{PublicKeys: keys}
	return &OIDCVerifier{
		verifier: oidc.NewVerifier(issuer, keyset, &oidc.Config{ClientID: clientID}),
	}
}

// Verify implements Verifier.
func (v *OIDCVerifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	token, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err.Error())
	}

	var claims struct {
		Email             string `json:"email"`
		Username          string `json:"cognito:username"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err = token.Claims(&claims); err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err.Error())
	}

	username := claims.Username
	if username == "" {
		username = claims.PreferredUsername
	}

	return &Claims{
		Subject:  token.Subject,
		Username: username,
		Email:    claims.Email,
	}, nil
}
