package token_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/septivank/metering-gateway/internal/metering"
	"github.com/septivank/metering-gateway/internal/token"
	"go.uber.org/zap"
)

type countingIssuer struct {
	calls   atomic.Int32
	ttl     time.Duration
	now     func() time.Time
	barrier *sync.WaitGroup
	err     error
}

func (i *countingIssuer) Issue(ctx context.Context) (token.Token, error) {
	n := i.calls.Add(1)
	if i.barrier != nil {
		i.barrier.Done()
		i.barrier.Wait()
	}
	if i.err != nil {
		return token.Token{}, i.err
	}
	return token.Token{
		AccessToken: fmt.Sprintf("token-%d", n),
		ExpiresAt:   i.now().Add(i.ttl),
	}, nil
}

func TestGetValidToken_IssuesWhenAbsentAndReuses(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	issuer := &countingIssuer{ttl: time.Hour, now: clock}
	m := token.NewManager(token.NewMemoryStore(), issuer, zap.NewNop()).WithClock(clock)

	first, err := m.GetValidToken(context.Background())
	if err != nil {
		t.Fatalf("GetValidToken failed: %v", err)
	}
	second, err := m.GetValidToken(context.Background())
	if err != nil {
		t.Fatalf("GetValidToken failed: %v", err)
	}
	if first != second {
		t.Errorf("Expected cached token to be reused, got %s then %s", first, second)
	}
	if n := issuer.calls.Load(); n != 1 {
		t.Errorf("Expected 1 issuance, got %d", n)
	}
}

func TestGetValidToken_RefreshesExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	issuer := &countingIssuer{ttl: time.Hour, now: clock}
	store := token.NewMemoryStore()
	m := token.NewManager(store, issuer, zap.NewNop()).WithClock(clock)

	first, err := m.GetValidToken(context.Background())
	if err != nil {
		t.Fatalf("GetValidToken failed: %v", err)
	}

	now = now.Add(2 * time.Hour)
	second, err := m.GetValidToken(context.Background())
	if err != nil {
		t.Fatalf("GetValidToken failed: %v", err)
	}
	if first == second {
		t.Error("Expected a new token after expiry")
	}
	persisted, _ := store.Get(context.Background())
	if persisted == nil || persisted.AccessToken != second {
		t.Errorf("Expected refreshed token to be persisted, got %+v", persisted)
	}
}

func TestGetValidToken_ConcurrentCreationHasSingleWinner(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	var barrier sync.WaitGroup
	barrier.Add(2)
	issuer := &countingIssuer{ttl: time.Hour, now: clock, barrier: &barrier}
	store := token.NewMemoryStore()
	m := token.NewManager(store, issuer, zap.NewNop()).WithClock(clock)

	results := make([]string, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := m.GetValidToken(context.Background())
			if err != nil {
				t.Errorf("GetValidToken failed: %v", err)
				return
			}
			results[i] = tok
		}(i)
	}
	wg.Wait()

	if n := issuer.calls.Load(); n != 2 {
		t.Fatalf("Expected both callers to issue, got %d", n)
	}
	if results[0] != results[1] {
		t.Errorf("Expected both callers to end with the winner's token, got %s and %s", results[0], results[1])
	}
	persisted, _ := store.Get(context.Background())
	if persisted == nil || persisted.AccessToken != results[0] {
		t.Errorf("Expected persisted token %s, got %+v", results[0], persisted)
	}
}

func TestGetValidToken_IssuerFailureIsUpstreamUnavailable(t *testing.T) {
	issuer := &countingIssuer{now: time.Now, err: errors.New("connection refused")}
	m := token.NewManager(token.NewMemoryStore(), issuer, zap.NewNop())

	_, err := m.GetValidToken(context.Background())
	if !errors.Is(err, metering.ErrUpstreamUnavailable) {
		t.Errorf("Expected ErrUpstreamUnavailable, got %v", err)
	}
	if errors.Is(err, metering.ErrPointNotFound) {
		t.Error("Token failure must be distinguishable from PointNotFound")
	}
}

func TestClientCredentials_Issue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm failed: %v", err)
		}
		if r.Form.Get("grant_type") != "client_credentials" || r.Form.Get("client_id") != "id" || r.Form.Get("client_secret") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc","token_type":"Bearer","expires_in":12600,"scope":"am_application_scope"}`))
	}))
	defer srv.Close()

	issuer := token.NewClientCredentials(srv.URL, "id", "secret", time.Second)
	before := time.Now()
	tok, err := issuer.Issue(context.Background())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if tok.AccessToken != "abc" || tok.Scope != "am_application_scope" {
		t.Errorf("Unexpected token %+v", tok)
	}
	if tok.ExpiresAt.Before(before.Add(12600 * time.Second)) {
		t.Errorf("Expected expires_at = now + expires_in, got %v", tok.ExpiresAt)
	}
}

func TestClientCredentials_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer srv.Close()

	issuer := token.NewClientCredentials(srv.URL, "id", "wrong", time.Second)
	if _, err := issuer.Issue(context.Background()); err == nil {
		t.Error("Expected error for rejected credentials")
	}
}
