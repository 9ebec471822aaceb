package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/release-registry/pkg/api"
	"github.com/Mindburn-Labs/release-registry/pkg/artifacts"
	"github.com/Mindburn-Labs/release-registry/pkg/auth"
	"github.com/Mindburn-Labs/release-registry/pkg/index"
	"github.com/Mindburn-Labs/release-registry/pkg/ledger"
	"github.com/Mindburn-Labs/release-registry/pkg/registrar"
)

const testSecret = "server-test-secret-0123456789abcdef"

type testEnv struct {
	srv       *httptest.Server
	validator *auth.JWTValidator
	index     *index.MemoryStore
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	idx := index.NewMemoryStore()
	reg, err := registrar.New(registrar.Config{
		Artifacts: artifacts.NewFileStoreFS(memfs.New()),
		Ledger:    ledger.NewContract(ledger.NewMemoryState(), "ledger-test", nil),
		Index:     idx,
	})
	require.NoError(t, err)

	validator, err := auth.NewJWTValidator([]byte(testSecret), "relreg")
	require.NoError(t, err)

	opts.Registrar = reg
	opts.Validator = validator
	srv := httptest.NewServer(New(opts).Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, validator: validator, index: idx}
}

func (e *testEnv) token(t *testing.T, sub string, roles ...string) string {
	t.Helper()
	tok, err := e.validator.Issue(sub, sub+"@example.com", roles, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) upload(t *testing.T, method, path, token string, content []byte, fields map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", "artifact.bin")
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return e.do(t, method, path, token, &buf, mw.FormDataContentType())
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

const releasePath = "/api/v1/packages/com.acme.lib/versions/1.0.0"

func TestHTTP_PublishDownloadValidateDiscontinue(t *testing.T) {
	env := newTestEnv(t, Options{})
	alice := env.token(t, "alice")
	content := []byte("release bytes")

	resp := env.upload(t, http.MethodPost, releasePath, alice, content, map[string]string{"name": "Acme Lib"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	pub := decode[registrar.PublishResult](t, resp)
	assert.Equal(t, releasePath+"/file", resp.Header.Get("Location"))
	assert.Equal(t, int64(len(content)), pub.Size)
	assert.Len(t, pub.ContentHash, 64)

	pkg, err := env.index.GetPackage(context.Background(), "com.acme.lib")
	require.NoError(t, err)
	assert.Equal(t, "Acme Lib", pkg.Name)

	resp = env.do(t, http.MethodGet, releasePath+"/file", alice, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, pub.ContentHash, resp.Header.Get("X-Content-Hash"))

	resp = env.upload(t, http.MethodPost, releasePath+"/validate", alice, content, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[registrar.ValidationResult](t, resp).Valid)

	resp = env.upload(t, http.MethodPost, releasePath+"/validate", alice, []byte("other"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[registrar.ValidationResult](t, resp).Valid)

	resp = env.do(t, http.MethodGet, releasePath, alice, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail := decode[registrar.ReleaseDetail](t, resp)
	assert.Equal(t, int64(1), detail.Downloads)

	resp = env.do(t, http.MethodPut, releasePath+"/discontinue", alice, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, releasePath+"/file", alice, nil, "")
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	problem := decode[api.Problem](t, resp)
	assert.Equal(t, "UNAVAILABLE", problem.Code)
}

func TestHTTP_ErrorMapping(t *testing.T) {
	env := newTestEnv(t, Options{})
	alice, bob := env.token(t, "alice"), env.token(t, "bob")

	require.Equal(t, http.StatusCreated, env.upload(t, http.MethodPost, releasePath, alice, []byte("a"), nil).StatusCode)

	resp := env.upload(t, http.MethodPost, releasePath, alice, []byte("b"), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ALREADY_EXISTS", decode[api.Problem](t, resp).Code)

	resp = env.upload(t, http.MethodPost, "/api/v1/packages/com.acme.lib/versions/2.0.0", bob, []byte("b"), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.upload(t, http.MethodPost, "/api/v1/packages/com.acme.lib/versions/2.0", alice, []byte("b"), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))

	resp = env.do(t, http.MethodGet, "/api/v1/packages/com.acme.lib/versions/9.9.9", alice, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPost, releasePath, alice, strings.NewReader("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTP_RequiresAuthentication(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp := env.do(t, http.MethodGet, releasePath, "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestHTTP_UploadTooLarge(t *testing.T) {
	env := newTestEnv(t, Options{MaxUploadBytes: 1024})
	resp := env.upload(t, http.MethodPost, releasePath, env.token(t, "alice"), bytes.Repeat([]byte("x"), 4096), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestHTTP_DiscontinuePackageAndSweep(t *testing.T) {
	env := newTestEnv(t, Options{})
	alice, admin := env.token(t, "alice"), env.token(t, "ops", auth.RoleAdmin)

	for _, v := range []string{"1.0.0", "1.1.0"} {
		resp := env.upload(t, http.MethodPost, "/api/v1/packages/com.acme.lib/versions/"+v, alice, []byte(v), nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := env.do(t, http.MethodGet, "/api/v1/packages/com.acme.lib/versions", alice, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[struct {
		Releases []ledger.Release `json:"releases"`
	}](t, resp)
	assert.Len(t, list.Releases, 2)

	resp = env.do(t, http.MethodPost, "/api/v1/packages/com.acme.lib/sweep", alice, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/v1/packages/com.acme.lib", admin, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decode[registrar.PackageReport](t, resp)
	assert.True(t, report.Complete)
	assert.Len(t, report.Versions, 2)
}

func TestHTTP_CommentsAndSubscriptions(t *testing.T) {
	env := newTestEnv(t, Options{})
	alice, bob := env.token(t, "alice"), env.token(t, "bob")
	require.Equal(t, http.StatusCreated, env.upload(t, http.MethodPost, releasePath, alice, []byte("a"), nil).StatusCode)

	resp := env.do(t, http.MethodPost, "/api/v1/packages/com.acme.lib/comments", bob, strings.NewReader(`{"body":"works for me"}`), "application/json")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/packages/com.acme.lib/comments", bob, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	comments := decode[struct {
		Comments []index.Comment `json:"comments"`
	}](t, resp)
	require.Len(t, comments.Comments, 1)
	assert.Equal(t, "bob", comments.Comments[0].AuthorID)

	resp = env.do(t, http.MethodPost, "/api/v1/packages/com.acme.lib/subscriptions", bob, nil, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	subs, err := env.index.ListSubscribers(context.Background(), "com.acme.lib")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "bob@example.com", subs[0].Email, "email defaults to the token claim")

	resp = env.do(t, http.MethodDelete, "/api/v1/packages/com.acme.lib/subscriptions", bob, nil, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestHTTP_Readiness(t *testing.T) {
	env := newTestEnv(t, Options{Ready: func(ctx context.Context) error { return errors.New("db down") }})
	resp := env.do(t, http.MethodGet, "/readiness", "", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestStatusFor(t *testing.T) {
	cases := map[registrar.ErrorCode]int{
		registrar.CodeAlreadyExists: http.StatusConflict,
		registrar.CodeNotFound:      http.StatusNotFound,
		registrar.CodeForbidden:     http.StatusForbidden,
		registrar.CodeUnavailable:   http.StatusGone,
		registrar.CodeTransient:     http.StatusServiceUnavailable,
		registrar.CodeInvalidInput:  http.StatusBadRequest,
		registrar.CodeInternal:      http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, statusFor(code), string(code))
	}
}

func TestWriteError_TransientSetsRetryAfter(t *testing.T) {
	s := New(Options{})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, releasePath, nil)
	s.writeError(w, r, &registrar.Error{Code: registrar.CodeTransient, Op: "publish", Err: context.DeadlineExceeded})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
}
