package authn

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const testSecret = "this-is-a-very-long-secret-key-for-testing-purposes"

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(Config{Secret: testSecret, TTL: time.Hour})
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	return s
}

func TestNewSignerShortSecret(t *testing.T) {
	if _, err := NewSigner(Config{Secret: "short"}); !errors.Is(err, ErrInvalidSecretKey) {
		t.Errorf("NewSigner() error = %v, want ErrInvalidSecretKey", err)
	}
}

func TestIssueAndValidate(t *testing.T) {
	s := newTestSigner(t)

	token, err := s.Issue("alice", []string{"hr"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	claims, err := s.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("Subject = %q, want alice", claims.Subject)
	}
	if len(claims.Groups) != 1 || claims.Groups[0] != "hr" {
		t.Errorf("Groups = %v, want [hr]", claims.Groups)
	}

	if _, err := s.Issue(" ", nil); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Issue(blank) error = %v, want ErrTokenInvalid", err)
	}
}

func TestValidateRejects(t *testing.T) {
	s := newTestSigner(t)
	valid, _ := s.Issue("alice", nil)

	other, _ := NewSigner(Config{Secret: testSecret, Salt: "another-salt"})
	foreign, _ := other.Issue("alice", nil)

	expired := newTestSigner(t)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, _ := expired.Issue("alice", nil)

	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "malformed", token: "abc", want: ErrTokenMalformed},
		{name: "other key", token: foreign, want: ErrSignatureInvalid},
		{name: "tampered payload", token: tampered, want: ErrSignatureInvalid},
		{name: "expired", token: stale, want: ErrTokenExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Validate(tt.token); !errors.Is(err, tt.want) {
				t.Errorf("Validate() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseBearer(t *testing.T) {
	tests := []struct {
		header string
		want   string
		err    bool
	}{
		{header: "Bearer abc", want: "abc"},
		{header: "bearer  abc ", want: "abc"},
		{header: "Basic abc", err: true},
		{header: "Bearer ", err: true},
		{header: "", err: true},
	}
	for _, tt := range tests {
		got, err := ParseBearer(tt.header)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("ParseBearer(%q) = %q, %v", tt.header, got, err)
		}
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer xyz")
	if got, err := ExtractBearer(r); err != nil || got != "xyz" {
		t.Errorf("ExtractBearer() = %q, %v", got, err)
	}
}

func TestActorFromContext(t *testing.T) {
	if _, ok := ActorFromContext(context.Background()); ok {
		t.Error("empty context should have no actor")
	}
	ctx := WithClaims(context.Background(), &Claims{Subject: "bob"})
	if actor, ok := ActorFromContext(ctx); !ok || actor != "bob" {
		t.Errorf("ActorFromContext() = %q, %v", actor, ok)
	}
}
