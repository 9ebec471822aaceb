package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"

	"github.com/Mindburn-Labs/release-registry/pkg/artifacts"
	"github.com/Mindburn-Labs/release-registry/pkg/auth"
	"github.com/Mindburn-Labs/release-registry/pkg/crypto"
	"github.com/Mindburn-Labs/release-registry/pkg/index"
	"github.com/Mindburn-Labs/release-registry/pkg/ledger"
	"github.com/Mindburn-Labs/release-registry/pkg/registrar"
	"github.com/Mindburn-Labs/release-registry/pkg/server"
)

const cliSecret = "cli-test-secret-0123456789abcdefgh"

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"relreg"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Help(t *testing.T) {
	code, out, _ := run("help")
	if code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}
	for _, cmd := range []string{"serve", "ledger-node", "verify", "hash", "token"} {
		if !strings.Contains(out, cmd) {
			t.Errorf("usage missing %q", cmd)
		}
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	code, _, errOut := run("frobnicate")
	if code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
	if !strings.Contains(errOut, "Unknown command: frobnicate") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestRun_Version(t *testing.T) {
	code, out, _ := run("version")
	if code != 0 || strings.TrimSpace(out) != "relreg "+version {
		t.Fatalf("version: code=%d out=%q", code, out)
	}
}

func TestRun_DefaultsToServe(t *testing.T) {
	var got []string
	calls := 0
	orig := startServer
	startServer = func(args []string, _, _ io.Writer) int {
		calls++
		got = args
		return 0
	}
	t.Cleanup(func() { startServer = orig })

	if code, _, _ := run(); code != 0 {
		t.Fatalf("no args: exit = %d", code)
	}
	if code, _, _ := run("--port", "9999"); code != 0 {
		t.Fatalf("flags only: exit = %d", code)
	}
	if calls != 2 {
		t.Fatalf("startServer called %d times, want 2", calls)
	}
	if len(got) != 2 || got[0] != "--port" || got[1] != "9999" {
		t.Errorf("args = %v", got)
	}
}

func TestHashCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.tgz")
	content := []byte("release payload")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	code, out, errOut := run("hash", "--file", path)
	if code != 0 {
		t.Fatalf("exit = %d, stderr = %s", code, errOut)
	}
	want := crypto.NewSHA256Hasher().Digest(content)
	if !strings.HasPrefix(out, want+"  15  ") {
		t.Errorf("output = %q, want prefix %q", out, want)
	}
}

func TestHashCmd_RequiresFile(t *testing.T) {
	if code, _, _ := run("hash"); code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
	if code, _, _ := run("hash", "--file", filepath.Join(t.TempDir(), "missing")); code != 2 {
		t.Fatalf("missing file: exit = %d, want 2", code)
	}
}

func TestTokenCmd(t *testing.T) {
	t.Setenv("JWT_SECRET", cliSecret)
	t.Setenv("JWT_ISSUER", "relreg")

	code, out, errOut := run("token", "--sub", "alice", "--email", "alice@example.com", "--admin", "--ttl", "1h")
	if code != 0 {
		t.Fatalf("exit = %d, stderr = %s", code, errOut)
	}

	v, err := auth.NewJWTValidator([]byte(cliSecret), "relreg")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := v.Validate(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("minted token rejected: %v", err)
	}
	if claims.Subject != "alice" || claims.Email != "alice@example.com" {
		t.Errorf("claims = %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != auth.RoleAdmin {
		t.Errorf("roles = %v, want [admin]", claims.Roles)
	}
}

func TestTokenCmd_ShortSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")
	if code, _, _ := run("token", "--sub", "alice"); code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
}

func newVerifyServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	reg, err := registrar.New(registrar.Config{
		Artifacts: artifacts.NewFileStoreFS(memfs.New()),
		Ledger:    ledger.NewContract(ledger.NewMemoryState(), "ledger-test", nil),
		Index:     index.NewMemoryStore(),
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = reg.Publish(context.Background(), registrar.PublishRequest{
		PackageID: "com.acme.lib",
		Version:   "1.0.0",
		Content:   []byte("the real artifact"),
		Publisher: registrar.Principal{ID: "alice"},
	})
	if err != nil {
		t.Fatal(err)
	}

	v, err := auth.NewJWTValidator([]byte(cliSecret), "relreg")
	if err != nil {
		t.Fatal(err)
	}
	token, err := v.Issue("bob", "bob@example.com", nil, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(server.New(server.Options{Registrar: reg, Validator: v}).Handler())
	t.Cleanup(srv.Close)
	return srv, token
}

func TestVerifyCmd(t *testing.T) {
	srv, token := newVerifyServer(t)
	dir := t.TempDir()
	good := filepath.Join(dir, "good.bin")
	bad := filepath.Join(dir, "bad.bin")
	if err := os.WriteFile(good, []byte("the real artifact"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte("a tampered artifact"), 0o600); err != nil {
		t.Fatal(err)
	}

	base := []string{"verify", "--server", srv.URL, "--token", token, "--package", "com.acme.lib"}

	code, out, errOut := run(append(base, "--version", "1.0.0", "--file", good)...)
	if code != 0 {
		t.Fatalf("good file: exit = %d, stderr = %s", code, errOut)
	}
	if !strings.Contains(out, "com.acme.lib:1.0.0 verified") {
		t.Errorf("output = %q", out)
	}

	if code, out, _ = run(append(base, "--version", "1.0.0", "--file", bad)...); code != 1 {
		t.Fatalf("tampered file: exit = %d, want 1", code)
	}
	if !strings.Contains(out, "failed verification") {
		t.Errorf("output = %q", out)
	}

	if code, out, _ = run(append(base, "--version", "9.9.9", "--file", good)...); code != 1 {
		t.Fatalf("unknown version: exit = %d, want 1", code)
	}
	if !strings.Contains(out, "not on the ledger") {
		t.Errorf("output = %q", out)
	}
}

func TestVerifyCmd_Errors(t *testing.T) {
	srv, _ := newVerifyServer(t)
	path := filepath.Join(t.TempDir(), "a.bin")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	if code, _, _ := run("verify", "--server", srv.URL); code != 2 {
		t.Errorf("missing flags: exit = %d, want 2", code)
	}
	// No token: the API rejects the call.
	code, _, errOut := run("verify", "--server", srv.URL, "--token", "", "--package", "com.acme.lib", "--version", "1.0.0", "--file", path)
	if code != 2 {
		t.Fatalf("unauthenticated: exit = %d, want 2", code)
	}
	if !strings.Contains(errOut, "401") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestHealthCmd(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(healthy.Close)
	if code, out, _ := run("health", "--url", healthy.URL); code != 0 || strings.TrimSpace(out) != "OK" {
		t.Fatalf("healthy: code=%d out=%q", code, out)
	}

	sick := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(sick.Close)
	if code, _, errOut := run("health", "--url", sick.URL); code != 1 || !strings.Contains(errOut, "503") {
		t.Fatalf("sick: code=%d stderr=%q", code, errOut)
	}
}

func TestLedgerNode_RejectsRemoteBackend(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "remote")
	t.Setenv("LEDGER_ADDR", "http://ledger.internal:9090")
	if code, _, errOut := run("ledger-node"); code != 2 || !strings.Contains(errOut, "local state") {
		t.Fatalf("code=%d stderr=%q", code, errOut)
	}
}
