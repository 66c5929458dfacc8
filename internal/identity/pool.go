package identity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt"
	"github.com/mdouchement/logger"
	"github.com/mdouchement/rekbox/internal/database"
	"github.com/mdouchement/rekbox/internal/model"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the minimum length of a password.
const MinPasswordLength = 8

type (
	// PoolOptions configures a Pool.
	PoolOptions struct {
		Database database.Client
		Mailer   Mailer
		Logger   logger.Logger
		// Secret signs the issued tokens.
		Secret   []byte
		Issuer   string
		TokenTTL time.Duration
		CodeTTL  time.Duration
	}

	// A Pool is a user pool: sign-up, email verification and sign-in issuing signed tokens.
	Pool struct {
		mu       sync.Mutex
		database database.Client
		mailer   Mailer
		log      logger.Logger
		secret   []byte
		issuer   string
		tokenTTL time.Duration
		codeTTL  time.Duration
	}

	// A Session is the result of a sign-in.
	Session struct {
		IDToken   string `json:"id_token"`
		TokenType string `json:"token_type"`
		ExpiresIn int    `json:"expires_in"`
	}

	tokenClaims struct {
		jwt.StandardClaims
		Username string `json:"username"`
		Email    string `json:"email"`
	}
)

// NewPool returns a new Pool.
func NewPool(o PoolOptions) (*Pool, error) {
	if len(o.Secret) < 32 {
		return nil, errors.New("token secret must be at least 32 bytes long")
	}
	if o.TokenTTL <= 0 {
		o.TokenTTL = time.Hour
	}
	if o.CodeTTL <= 0 {
		o.CodeTTL = 24 * time.Hour
	}
	if o.Issuer == "" {
		o.Issuer = "rekbox"
	}

	log := o.Logger.WithPrefix("[identity]")
	if o.Mailer == nil {
		o.Mailer = LogMailer{Logger: log}
	}

	return &Pool{
		database: o.Database,
		mailer:   o.Mailer,
		log:      log,
		secret:   o.Secret,
		issuer:   o.Issuer,
		tokenTTL: o.TokenTTL,
		codeTTL:  o.CodeTTL,
	}, nil
}

// SignUp registers a pending identity and sends its verification code.
func (p *Pool) SignUp(ctx context.Context, username, email, password string) (*model.Identity, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))

	switch {
	case username == "" || strings.ContainsAny(username, "/*@ "):
		return nil, errors.Wrap(ErrInvalidParameter, "username")
	case !strings.Contains(email, "@"):
		return nil, errors.Wrap(ErrInvalidParameter, "email")
	case len(password) < MinPasswordLength:
		return nil, errors.Wrapf(ErrInvalidParameter, "password must have at least %d characters", MinPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "could not hash password")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	_, err = p.database.FindIdentityByUsername(username)
	if !p.database.IsNotFound(err) {
		return nil, p.exists(err, "username")
	}
	_, err = p.database.FindIdentityByEmail(email)
	if !p.database.IsNotFound(err) {
		return nil, p.exists(err, "email")
	}

	identity := &model.Identity{
		Username:     username,
		Email:        email,
		Subject:      uuid.Must(uuid.NewV4()).String(),
		PasswordHash: string(hash),
		Status:       model.IdentityPending,
	}

	if err = p.sendCode(ctx, identity); err != nil {
		return nil, err
	}

	p.log.Infof("Identity %s signed up", identity.Username)
	return identity, nil
}

// ResendCode sends a new verification code to a pending identity.
func (p *Pool) ResendCode(ctx context.Context, username string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	identity, err := p.find(username)
	if err != nil {
		return err
	}
	if identity.Confirmed() {
		return ErrAlreadyConfirmed
	}

	return p.sendCode(ctx, identity)
}

// ConfirmSignUp verifies the identity with the code it received.
func (p *Pool) ConfirmSignUp(_ context.Context, username, code string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	identity, err := p.find(username)
	if err != nil {
		return err
	}
	if identity.Confirmed() {
		return ErrAlreadyConfirmed
	}

	if subtle.ConstantTimeCompare([]byte(identity.VerificationCode), []byte(code)) != 1 {
		return ErrCodeMismatch
	}
	if time.Now().After(identity.CodeExpiresAt) {
		return ErrCodeExpired
	}

	identity.Status = model.IdentityConfirmed
	identity.VerificationCode = ""
	if err = p.database.Save(identity); err != nil {
		return errors.Wrap(err, "could not confirm identity")
	}

	p.log.Infof("Identity %s confirmed", identity.Username)
	return nil
}

// SignIn authenticates a confirmed identity by username or email and issues a token.
func (p *Pool) SignIn(_ context.Context, login, password string) (*Session, error) {
	identity, err := p.database.FindIdentityByUsername(strings.TrimSpace(login))
	if p.database.IsNotFound(err) {
		identity, err = p.database.FindIdentityByEmail(strings.ToLower(strings.TrimSpace(login)))
	}
	if p.database.IsNotFound(err) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not find identity")
	}

	if bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	if !identity.Confirmed() {
		return nil, ErrNotConfirmed
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		StandardClaims: jwt.StandardClaims{
			Id:        uuid.Must(uuid.NewV4()).String(),
			Issuer:    p.issuer,
			Subject:   identity.Subject,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(p.tokenTTL).Unix(),
		},
		Username: identity.Username,
		Email:    identity.Email,
	})

	signed, err := token.SignedString(p.secret)
	if err != nil {
		return nil, errors.Wrap(err, "could not sign token")
	}

	return &Session{
		IDToken:   signed,
		TokenType: "Bearer",
		ExpiresIn: int(p.tokenTTL / time.Second),
	}, nil
}

// Verify implements Verifier.
func (p *Pool) Verify(_ context.Context, raw string) (*Claims, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if !token.Valid || claims.Subject == "" || !claims.VerifyIssuer(p.issuer, true) {
		return nil, ErrInvalidToken
	}

	return &Claims{
		Subject:  claims.Subject,
		Username: claims.Username,
		Email:    claims.Email,
	}, nil
}

// PurgePending removes the pending identities whose code expired for longer than grace.
func (p *Pool) PurgePending(_ context.Context, grace time.Duration) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	identities, err := p.database.AllIdentities()
	if err != nil && !p.database.IsNotFound(err) {
		return 0, errors.Wrap(err, "could not list identities")
	}

	var n int
	deadline := time.Now().Add(-grace)
	for _, identity := range identities {
		if identity.Confirmed() || identity.CodeExpiresAt.After(deadline) {
			continue
		}

		if err = p.database.Delete(identity); err != nil {
			return n, errors.Wrap(err, "could not purge identity")
		}
		p.log.Infof("Pending identity %s purged", identity.Username)
		n++
	}
	return n, nil
}

// sendCode must be called with the lock held.
func (p *Pool) sendCode(ctx context.Context, identity *model.Identity) error {
	code, err := verificationCode()
	if err != nil {
		return err
	}

	identity.VerificationCode = code
	identity.CodeExpiresAt = time.Now().Add(p.codeTTL)
	if err = p.database.Save(identity); err != nil {
		return errors.Wrap(err, "could not save identity")
	}

	return errors.Wrap(p.mailer.SendVerificationCode(ctx, identity, code), "could not send verification code")
}

func (p *Pool) find(username string) (*model.Identity, error) {
	identity, err := p.database.FindIdentityByUsername(strings.TrimSpace(username))
	if p.database.IsNotFound(err) {
		return nil, ErrUserNotFound
	}
	return identity, errors.Wrap(err, "could not find identity")
}

func (p *Pool) exists(err error, field string) error {
	if err != nil {
		return errors.Wrap(err, "could not check identity")
	}
	return errors.Wrap(ErrUserExists, field)
}

func verificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", errors.Wrap(err, "could not generate verification code")
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
