package hookauth

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestChecker_ValidAndInvalidToken(t *testing.T) {
	c := NewChecker("secret-token")

	req := httptest.NewRequest(http.MethodGet, "/opencode-event", nil)
	if c.Valid(req) {
		t.Fatal("request with no Authorization header should be invalid")
	}

	req.Header.Set("Authorization", "Bearer wrong-token")
	if c.Valid(req) {
		t.Fatal("request with wrong token should be invalid")
	}

	req.Header.Set("Authorization", "Bearer secret-token")
	if !c.Valid(req) {
		t.Fatal("request with correct token should be valid")
	}
}

func TestChecker_Wrap_ExemptsHealthCheck(t *testing.T) {
	c := NewChecker("secret-token")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := c.Wrap(next, "/health")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health check status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/opencode-event", nil)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated event status = %d, want 401", rec.Code)
	}
}

func TestGenerateToken_IsHexAndUnique(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if len(a) != tokenBytes*2 {
		t.Fatalf("token length = %d, want %d", len(a), tokenBytes*2)
	}
	b, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if a == b {
		t.Fatal("two generated tokens should not collide")
	}
}

func TestWriteTokenFile_SetsRestrictivePermissions(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteTokenFile(dir, "abc123")
	if err != nil {
		t.Fatalf("WriteTokenFile: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("token written to %q, want under %q", path, dir)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat token file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("token file mode = %o, want 0600", perm)
	}
}
