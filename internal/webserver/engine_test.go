package webserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/mdouchement/logger"
	"github.com/mdouchement/rekbox/internal/config"
	"github.com/mdouchement/rekbox/internal/database"
	"github.com/mdouchement/rekbox/internal/frontend"
	"github.com/mdouchement/rekbox/internal/identity"
	"github.com/mdouchement/rekbox/internal/labelstore"
	"github.com/mdouchement/rekbox/internal/model"
	"github.com/mdouchement/rekbox/internal/service"
	"github.com/mdouchement/rekbox/internal/storage"
	"github.com/mdouchement/rekbox/internal/topology"
	"github.com/mdouchement/rekbox/internal/xpath"
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
	m.codes[identity.Username] = code
	return nil
}

func (m *mailbox) code(username string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[username]
}

type uploads struct {
	mu      sync.Mutex
	objects []*model.Object
}

func (u *uploads) ObjectCreated(_ context.Context, object *model.Object) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.objects = append(u.objects, object)
	return nil
}

type fixture struct {
	config  *config.Config
	db      database.Client
	storage storage.Backend
	labels  labelstore.Store
	mails   *mailbox
	uploads *uploads
	engine  *echo.Echo
}

func setup(t *testing.T) *fixture {
	t.Helper()

	t.Setenv("SITE_ALLOWED_CIDRS", "10.0.0.0/8,192.168.1.0/24")
	c, err := config.Load()
	require.NoError(t, err)

	db, err := database.StormOpen(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)
	l := logger.WrapLogrus(log)

	f := &fixture{
		config:  c,
		db:      db,
		storage: storage.NewFileSystem(t.TempDir()),
		labels:  labelstore.NewDatabase(db),
		mails:   &mailbox{codes: map[string]string{}},
		uploads: &uploads{},
	}

	pool, err := identity.NewPool(identity.PoolOptions{
		Database: db,
		Mailer:   f.mails,
		Logger:   l,
		Secret:   []byte("0123456789abcdef0123456789abcdef"),
	})
	require.NoError(t, err)

	stack := topology.New(c)
	f.engine, err = EchoEngine(Controller{
		Version:  "test",
		Logger:   l,
		Database: db,
		Storage:  f.storage,
		Frontend: frontend.New(frontend.Controller{
			Logger:        l,
			Database:      db,
			Storage:       f.storage,
			Labels:        f.labels,
			Role:          stack.Role(topology.FrontendRole),
			Table:         c.Table,
			ImageBucket:   c.Bucket,
			ResizedBucket: c.ResizedBucket,
		}),
		Verifier:      pool,
		Pool:          pool,
		IdentityRole:  stack.Role(topology.AuthenticatedRole),
		Notifier:      f.uploads,
		SiteRole:      stack.Role(topology.SiteRole),
		WebsiteBucket: c.WebsiteBucket,
		AllowedCIDRs:  c.Site.AllowedCIDRs,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) do(method, target, token string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}

	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

// signIn registers a confirmed identity and returns its subject and token.
func (f *fixture) signIn(t *testing.T, username string) (string, string) {
	t.Helper()

	rec := f.do(http.MethodPost, "/auth/signup", "", strings.NewReader(`{"username":"`+username+`","email":"`+username+`@example.com","password":"s3cr3t-passw0rd"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Subject string `json:"sub"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = f.do(http.MethodPost, "/auth/confirm", "", strings.NewReader(`{"username":"`+username+`","code":"`+f.mails.code(username)+`"}`))
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = f.do(http.MethodPost, "/auth/signin", "", strings.NewReader(`{"username":"`+username+`","password":"s3cr3t-passw0rd"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var session identity.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	return created.Subject, session.IDToken
}

// detected stores an image and its label record the way the detection worker does.
func (f *fixture) detected(t *testing.T, key string) {
	t.Helper()
	ctx := context.Background()

	for _, bucket := range []string{f.config.Bucket, f.config.ResizedBucket} {
		w, err := f.storage.Writer(ctx, bucket, key)
		require.NoError(t, err)
		_, err = w.Write([]byte("meow"))
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}

	err := f.labels.Put(ctx, &model.Label{
		Image:     xpath.ImageID(key),
		Source:    key,
		Thumbnail: xpath.ResizedKey(key),
		Labels:    []model.DetectedLabel{{Name: "Cat", Confidence: 98.5}},
	})
	require.NoError(t, err)
}

func TestImages_Authorizer(t *testing.T) {
	f := setup(t)

	rec := f.do(http.MethodGet, "/images?action=list&key=private/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	rec = f.do(http.MethodGet, "/images?action=list&key=private/", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestImages_RequiredParameters(t *testing.T) {
	f := setup(t)
	_, token := f.signIn(t, "alice")

	for _, target := range []string{"/images", "/images?action=list", "/images?key=private/"} {
		rec := f.do(http.MethodGet, target, token, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	}
}

func TestImages_EmptyList(t *testing.T) {
	f := setup(t)
	sub, token := f.signIn(t, "alice")

	rec := f.do(http.MethodGet, "/images?action=list&key="+xpath.OwnerPrefix(sub), token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestImages_GetDelete(t *testing.T) {
	f := setup(t)
	sub, token := f.signIn(t, "alice")
	key := xpath.OwnerPrefix(sub) + "cat.jpg"
	f.detected(t, key)

	rec := f.do(http.MethodGet, "/images?action=list&key="+xpath.OwnerPrefix(sub), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var labels []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &labels))
	require.Len(t, labels, 1)
	assert.Equal(t, sub+"/cat.jpg", labels[0]["image"])
	assert.Equal(t, key, labels[0]["thumbnail"])

	rec = f.do(http.MethodGet, "/images?action=get&key="+key, token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodDelete, "/images?action=delete&key="+key, token, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/images?action=get&key="+key, token, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	var payload map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, frontend.CodeNotFound, payload["code"])
	assert.NotEmpty(t, payload["message"])
}

func TestImages_Errors(t *testing.T) {
	f := setup(t)
	alice, _ := f.signIn(t, "alice")
	_, token := f.signIn(t, "bob")
	f.detected(t, xpath.OwnerPrefix(alice)+"cat.jpg")

	tests := []struct {
		method string
		target string
		code   string
	}{
		{http.MethodGet, "/images?action=get&key=" + xpath.OwnerPrefix(alice) + "cat.jpg", frontend.CodeAccessDenied},
		{http.MethodDelete, "/images?action=delete&key=" + xpath.OwnerPrefix(alice) + "cat.jpg", frontend.CodeAccessDenied},
		{http.MethodGet, "/images?action=list&key=" + xpath.OwnerPrefix(alice), frontend.CodeAccessDenied},
		{http.MethodGet, "/images?action=rename&key=" + xpath.OwnerPrefix(alice), frontend.CodeAccessDenied},
		{http.MethodDelete, "/images?action=get&key=private/", frontend.CodeAccessDenied},
	}

	for _, tt := range tests {
		rec := f.do(tt.method, tt.target, token, nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, tt.target)
		assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin), tt.target)

		var payload map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
		assert.Equal(t, tt.code, payload["code"], tt.target)
	}
}

func TestImages_Preflight(t *testing.T) {
	f := setup(t)

	req := httptest.NewRequest(http.MethodOptions, "/images?action=list&key=private/", nil)
	req.Header.Set(echo.HeaderOrigin, "https://example.com")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodDelete)
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Contains(t, rec.Header().Get(echo.HeaderAccessControlAllowMethods), http.MethodDelete)
}

func TestAuth_Unconfirmed(t *testing.T) {
	f := setup(t)

	rec := f.do(http.MethodPost, "/auth/signup", "", strings.NewReader(`{"username":"carol","email":"carol@example.com","password":"s3cr3t-passw0rd"}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodPost, "/auth/signin", "", strings.NewReader(`{"username":"carol","password":"s3cr3t-passw0rd"}`))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/auth/confirm", "", strings.NewReader(`{"username":"carol","code":"000000x"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/auth/signup", "", strings.NewReader(`{"username":"carol","email":"carol2@example.com","password":"s3cr3t-passw0rd"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPost, "/auth/signin", "", strings.NewReader(`{"username":"carol","password":"wrong-password"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStorage_PrefixIsolation(t *testing.T) {
	f := setup(t)
	alice, aliceToken := f.signIn(t, "alice")
	bob, bobToken := f.signIn(t, "bob")
	bucket := f.config.Bucket

	rec := f.do(http.MethodPut, "/storage/"+bucket+"/"+xpath.OwnerPrefix(alice)+"cat.jpg", aliceToken, strings.NewReader("meow"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, f.uploads.objects, 1)
	assert.Equal(t, xpath.OwnerPrefix(alice)+"cat.jpg", f.uploads.objects[0].Key)

	rec = f.do(http.MethodGet, "/storage/"+bucket+"/"+xpath.OwnerPrefix(alice)+"cat.jpg", aliceToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "meow", rec.Body.String())

	rec = f.do(http.MethodGet, "/storage/"+bucket+"?prefix="+xpath.OwnerPrefix(alice), aliceToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var objects []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &objects))
	assert.Len(t, objects, 1)

	// Bob can neither read, list nor write under Alice's prefix.
	rec = f.do(http.MethodGet, "/storage/"+bucket+"/"+xpath.OwnerPrefix(alice)+"cat.jpg", bobToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/storage/"+bucket+"?prefix="+xpath.OwnerPrefix(alice), bobToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/storage/"+bucket+"?prefix=private/", bobToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPut, "/storage/"+bucket+"/"+xpath.OwnerPrefix(alice)+"dog.jpg", bobToken, strings.NewReader("woof"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/storage/"+bucket+"?prefix="+xpath.OwnerPrefix(bob), bobToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = f.do(http.MethodGet, "/storage/"+bucket+"/"+xpath.OwnerPrefix(alice)+"cat.jpg", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSite_AllowList(t *testing.T) {
	f := setup(t)

	deployer := topology.New(f.config).Role(topology.SiteDeploymentRole).Assume("")
	object := &model.Object{Bucket: f.config.WebsiteBucket, Key: "index.html", ContentType: echo.MIMETextHTMLCharsetUTF8}
	err := service.NewObjectUploader(f.db, f.storage, deployer, object).Upload(context.Background(), strings.NewReader("<html></html>"))
	require.NoError(t, err)

	serve := func(remote, target string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		f.engine.ServeHTTP(rec, req)
		return rec
	}

	rec := serve("10.1.2.3:4242", "/site/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html></html>", rec.Body.String())

	rec = serve("192.168.1.7:4242", "/site/missing.js")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "<html></html>", rec.Body.String())

	rec = serve("203.0.113.9:4242", "/site/")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSite_EmptyAllowListDeniesAll(t *testing.T) {
	f := setup(t)

	log := logrus.New()
	log.SetOutput(io.Discard)
	stack := topology.New(f.config)

	engine, err := EchoEngine(Controller{
		Logger:        logger.WrapLogrus(log),
		Database:      f.db,
		Storage:       f.storage,
		Verifier:      identity.NewStaticOIDCVerifier("https://issuer.example.com", "client"),
		IdentityRole:  stack.Role(topology.AuthenticatedRole),
		SiteRole:      stack.Role(topology.SiteRole),
		WebsiteBucket: f.config.WebsiteBucket,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/site/", nil)
	req.RemoteAddr = "127.0.0.1:4242"
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Without user pool, the sign-up routes are not exposed.
	req = httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err = EchoEngine(Controller{
		Logger:       logger.WrapLogrus(log),
		SiteRole:     stack.Role(topology.SiteRole),
		AllowedCIDRs: []string{"not-a-cidr"},
	})
	assert.Error(t, err)
}
