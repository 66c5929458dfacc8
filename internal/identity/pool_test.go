package identity

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mdouchement/logger"
	"github.com/mdouchement/rekbox/internal/database"
	"github.com/mdouchement/rekbox/internal/model"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mailbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (m *mailbox) SendVerificationCode(_ context.Context, identity *model.Identity, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[identity.Email] = code
	return nil
}

func (m *mailbox) code(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[email]
}

func setup(t *testing.T) (*Pool, *mailbox, database.Client) {
	t.Helper()

	db, err := database.StormOpen(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	mails := &mailbox{codes: map[string]string{}}
	pool, err := NewPool(PoolOptions{
		Database: db,
		Mailer:   mails,
		Logger:   logger.WrapLogrus(log),
		Secret:   []byte("0123456789abcdef0123456789abcdef"),
		TokenTTL: time.Minute,
	})
	require.NoError(t, err)
	return pool, mails, db
}

func TestPool_Lifecycle(t *testing.T) {
	pool, mails, _ := setup(t)
	ctx := context.Background()

	identity, err := pool.SignUp(ctx, "alice", "Alice@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, model.IdentityPending, identity.Status)
	assert.NotEmpty(t, identity.Subject)
	assert.Len(t, mails.code("alice@example.com"), 6)

	// Pending identities cannot sign in.
	_, err = pool.SignIn(ctx, "alice", "correct horse")
	assert.ErrorIs(t, err, ErrNotConfirmed)

	assert.ErrorIs(t, pool.ConfirmSignUp(ctx, "alice", "abcdef"), ErrCodeMismatch)
	require.NoError(t, pool.ConfirmSignUp(ctx, "alice", mails.code("alice@example.com")))
	assert.ErrorIs(t, pool.ConfirmSignUp(ctx, "alice", mails.code("alice@example.com")), ErrAlreadyConfirmed)

	_, err = pool.SignIn(ctx, "alice", "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = pool.SignIn(ctx, "nobody", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	session, err := pool.SignIn(ctx, "alice@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", session.TokenType)
	assert.Equal(t, 60, session.ExpiresIn)

	claims, err := pool.Verify(ctx, session.IDToken)
	require.NoError(t, err)
	assert.Equal(t, identity.Subject, claims.Subject)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "alice@example.com", claims.Email)
}

func TestPool_SignUpValidation(t *testing.T) {
	pool, _, _ := setup(t)
	ctx := context.Background()

	_, err := pool.SignUp(ctx, "", "a@example.com", "long enough")
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = pool.SignUp(ctx, "a/b", "a@example.com", "long enough")
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = pool.SignUp(ctx, "alice", "not-an-email", "long enough")
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = pool.SignUp(ctx, "alice", "alice@example.com", "short")
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = pool.SignUp(ctx, "alice", "alice@example.com", "long enough")
	require.NoError(t, err)
	_, err = pool.SignUp(ctx, "alice", "other@example.com", "long enough")
	assert.ErrorIs(t, err, ErrUserExists)
	_, err = pool.SignUp(ctx, "bob", "ALICE@example.com", "long enough")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestPool_ResendCode(t *testing.T) {
	pool, mails, _ := setup(t)
	ctx := context.Background()

	_, err := pool.SignUp(ctx, "alice", "alice@example.com", "long enough")
	require.NoError(t, err)
	first := mails.code("alice@example.com")

	// Codes are random, retry until the new one differs.
	for i := 0; i < 5 && mails.code("alice@example.com") == first; i++ {
		require.NoError(t, pool.ResendCode(ctx, "alice"))
	}
	require.NotEqual(t, first, mails.code("alice@example.com"))

	assert.ErrorIs(t, pool.ConfirmSignUp(ctx, "alice", first), ErrCodeMismatch)
	require.NoError(t, pool.ConfirmSignUp(ctx, "alice", mails.code("alice@example.com")))
	assert.ErrorIs(t, pool.ResendCode(ctx, "alice"), ErrAlreadyConfirmed)
	assert.ErrorIs(t, pool.ResendCode(ctx, "bob"), ErrUserNotFound)
}

func TestPool_Verify(t *testing.T) {
	pool, _, _ := setup(t)
	ctx := context.Background()

	_, err := pool.Verify(ctx, "not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewPool(PoolOptions{
		Database: pool.database,
		Logger:   pool.log,
		Secret:   []byte("fedcba9876543210fedcba9876543210"),
	})
	require.NoError(t, err)

	_, err = pool.SignUp(ctx, "alice", "alice@example.com", "long enough")
	require.NoError(t, err)
	identity, err := pool.database.FindIdentityByUsername("alice")
	require.NoError(t, err)
	identity.Status = model.IdentityConfirmed
	require.NoError(t, pool.database.Save(identity))

	session, err := other.SignIn(ctx, "alice", "long enough")
	require.NoError(t, err)

	_, err = pool.Verify(ctx, session.IDToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPool_PurgePending(t *testing.T) {
	pool, _, db := setup(t)
	ctx := context.Background()

	_, err := pool.SignUp(ctx, "alice", "alice@example.com", "long enough")
	require.NoError(t, err)
	_, err = pool.SignUp(ctx, "bob", "bob@example.com", "long enough")
	require.NoError(t, err)

	bob, err := db.FindIdentityByUsername("bob")
	require.NoError(t, err)
	bob.CodeExpiresAt = time.Now().Add(-8 * 24 * time.Hour)
	require.NoError(t, db.Save(bob))

	n, err := pool.PurgePending(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = db.FindIdentityByUsername("bob")
	assert.True(t, db.IsNotFound(err))
	_, err = db.FindIdentityByUsername("alice")
	assert.NoError(t, err)
}
