package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func TestExtractBearerToken(t *testing.T) {
	r := httptest.NewRequest("POST", "/tools/exec", nil)
	r.Header.Set("Authorization", "Bearer sbx_test_key_123")

	token, err := ExtractBearerToken(r)
	if err != nil {
		t.Fatal(err)
	}
	if token != "sbx_test_key_123" {
		t.Fatalf("unexpected token %q", token)
	}

	r = httptest.NewRequest("POST", "/tools/exec", nil)
	if _, err := ExtractBearerToken(r); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for missing header, got %v", err)
	}

	r = httptest.NewRequest("POST", "/tools/exec", nil)
	r.Header.Set("Authorization", "Bearer tsk_wrong_prefix")
	if _, err := ExtractBearerToken(r); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for wrong prefix, got %v", err)
	}
}

func TestStaticAuthenticator(t *testing.T) {
	a := NewStaticAuthenticator()
	r := httptest.NewRequest("POST", "/tools/exec", nil)
	r.Header.Set("Authorization", "Bearer sbx_dev")

	project, err := a.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	if project.ProjectID == "" {
		t.Fatal("expected a project id")
	}
}

type stubStore struct {
	row     *projectRow
	err     error
	lookups int
}

func (s *stubStore) LookupByPrefix(_ context.Context, _ string) (*projectRow, error) {
	s.lookups++
	return s.row, s.err
}

func TestPostgresAuthenticator(t *testing.T) {
	key := "sbx_abcd_full_key"
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	store := &stubStore{row: &projectRow{ProjectID: "proj-1", APIKeyHash: string(hash)}}
	a := NewPostgresAuthenticatorWithStore(store, time.Minute, false, zap.NewNop())

	r := httptest.NewRequest("POST", "/tools/exec", nil)
	r.Header.Set("Authorization", "Bearer "+key)

	project, err := a.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	if project.ProjectID != "proj-1" {
		t.Fatalf("unexpected project %q", project.ProjectID)
	}

	// Second call is served from cache without hitting the store.
	if _, err := a.Authenticate(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if store.lookups != 1 {
		t.Fatalf("expected 1 store lookup, got %d", store.lookups)
	}
}

func TestKeyCache_StaleServedWithSingleRefresh(t *testing.T) {
	// Zero TTL: every entry is stale on the next read.
	c := newKeyCache(0)
	c.put("sbx_key", &ProjectContext{ProjectID: "proj-1"})

	first := c.get("sbx_key")
	if !first.Hit || first.Project.ProjectID != "proj-1" {
		t.Fatalf("stale entry must still hit, got %+v", first)
	}
	if !first.Refresh {
		t.Fatal("first stale read should own the refresh")
	}
	if second := c.get("sbx_key"); second.Refresh {
		t.Fatal("only one reader may own the refresh")
	}

	c.drop("sbx_key")
	if got := c.get("sbx_key"); got.Hit {
		t.Fatalf("dropped token must miss, got %+v", got)
	}
}

func TestPostgresAuthenticator_WrongKey(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("sbx_abcd_real_key"), bcrypt.MinCost)
	store := &stubStore{row: &projectRow{ProjectID: "proj-1", APIKeyHash: string(hash)}}
	a := NewPostgresAuthenticatorWithStore(store, time.Minute, false, zap.NewNop())

	r := httptest.NewRequest("POST", "/tools/exec", nil)
	r.Header.Set("Authorization", "Bearer sbx_abcd_fake_key")

	if _, err := a.Authenticate(context.Background(), r); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestPostgresAuthenticator_FailOpen(t *testing.T) {
	store := &stubStore{err: errors.New("db down")}
	a := NewPostgresAuthenticatorWithStore(store, time.Minute, true, zap.NewNop())

	r := httptest.NewRequest("POST", "/tools/exec", nil)
	r.Header.Set("Authorization", "Bearer sbx_whatever_key")

	project, err := a.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	if project.ProjectID != "unknown" || !project.FailOpen {
		t.Fatalf("unexpected fail-open context: %+v", project)
	}
}
