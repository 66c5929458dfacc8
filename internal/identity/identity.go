// Package identity implements the user pool issuing the bearer tokens and the verifiers of those tokens.
package identity

import (
	"context"

	"github.com/mdouchement/logger"
	"github.com/mdouchement/rekbox/internal/model"
	"github.com/pkg/errors"
)

// Identity errors.
var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrNotConfirmed       = errors.New("user is not confirmed")
	ErrAlreadyConfirmed   = errors.New("user is already confirmed")
	ErrCodeMismatch       = errors.New("invalid verification code")
	ErrCodeExpired        = errors.New("verification code expired")
	ErrInvalidCredentials = errors.New("incorrect username or password")
)

type (
	// Claims are the verified attributes of a bearer token.
	Claims struct {
		Subject  string `json:"sub"`
		Username string `json:"username"`
		Email    string `json:"email"`
	}

	// A Verifier checks bearer tokens.
	Verifier interface {
		Verify(ctx context.Context, token string) (*Claims, error)
	}

	// A Mailer delivers the verification codes.
	Mailer interface {
		SendVerificationCode(ctx context.Context, identity *model.Identity, code string) error
	}
)

// LogMailer is a Mailer writing the verification codes in the logs.
type LogMailer struct {
	Logger logger.Logger
}

// SendVerificationCode implements Mailer.
func (m LogMailer) SendVerificationCode(_ context.Context, identity *model.Identity, code string) error {
	m.Logger.Infof("Verification code for %s <%s>: %s", identity.Username, identity.Email, code)
	return nil
}
