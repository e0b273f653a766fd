package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
)

func TestSubprotocolToken(t *testing.T) {
	tests := []struct {
		name    string
		values  []string
		want    string
		wantErr bool
	}{
		{"single", []string{"secret"}, "secret", false},
		{"list", []string{"secret, chat, v2"}, "secret", false},
		{"multiple headers", []string{"secret", "chat"}, "secret", false},
		{"leading blanks", []string{" , secret"}, "secret", false},
		{"absent", nil, "", true},
		{"empty", []string{""}, "", true},
		{"only separators", []string{" , ,"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SubprotocolToken(tt.values)
			if tt.wantErr {
				if !errors.Is(err, ErrMissingSubprotocol) {
					t.Fatalf("expected ErrMissingSubprotocol, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidToken(t *testing.T) {
	if !ValidToken("s3cret", "s3cret") {
		t.Error("expected match")
	}
	if ValidToken("s3cre", "s3cret") {
		t.Error("expected mismatch on length")
	}
	if ValidToken("", "") {
		t.Error("empty tokens must never match")
	}
	if ValidToken("x", "") {
		t.Error("empty expected token must never match")
	}
}

func TestAuthenticate(t *testing.T) {
	tokens := []TokenConfig{
		{Token: "viewer", Scopes: []string{ScopeConnsRead, ScopeEventsRead}},
		{Token: "operator", Scopes: []string{ScopePluginsWrite, " "}},
	}

	admin, ok := Authenticate("root-key", "root-key", tokens)
	if !ok || !admin.HasAny(ScopeSystemControl) {
		t.Fatal("admin key should carry every scope")
	}

	viewer, ok := Authenticate("viewer", "root-key", tokens)
	if !ok {
		t.Fatal("viewer should authenticate")
	}
	if viewer.HasAny(ScopePluginsRead) {
		t.Error("viewer should not read plugins")
	}
	if !viewer.HasAny(ScopeEventsRead) {
		t.Error("viewer should read events")
	}

	op, ok := Authenticate("operator", "root-key", tokens)
	if !ok || !op.HasAny(ScopePluginsRead) {
		t.Error("plugins:rw should imply plugins:ro")
	}

	if _, ok := Authenticate("nope", "root-key", tokens); ok {
		t.Error("unknown token should not authenticate")
	}
}

func TestExtractBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if _, err := ExtractBearerToken(r); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials, got %v", err)
	}

	r.Header.Set("Authorization", "Basic abc")
	if _, err := ExtractBearerToken(r); !errors.Is(err, ErrNotBearer) {
		t.Errorf("expected ErrNotBearer, got %v", err)
	}

	r.Header.Set("Authorization", "Bearer ")
	if _, err := ExtractBearerToken(r); !errors.Is(err, ErrEmptyBearer) {
		t.Errorf("expected ErrEmptyBearer, got %v", err)
	}

	r.Header.Set("Authorization", "bearer   tok  ")
	got, err := ExtractBearerToken(r)
	if err != nil || got != "tok" {
		t.Errorf("got %q, %v", got, err)
	}
}

func TestScopeSetExpandsWrite(t *testing.T) {
	set := newScopeSet([]string{ScopeSystemControl, ""})
	if !set.has("system:ro") {
		t.Error("system:rw should imply system:ro")
	}
	if len(set) != 2 {
		t.Errorf("unexpected set: %v", set)
	}

	p := Principal{Scopes: set}
	if p.Admin() {
		t.Error("scoped principal must not be admin")
	}
	if !p.HasAny() {
		t.Error("no required scopes should pass")
	}
}
