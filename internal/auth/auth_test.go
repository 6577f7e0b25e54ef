package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

// memCredentialStore records upserts so persistence calls can be asserted.
type memCredentialStore struct {
	creds map[string]UserCredentials
}

func newMemCredentialStore() *memCredentialStore {
	return &memCredentialStore{creds: make(map[string]UserCredentials)}
}

func (m *memCredentialStore) UpsertCredentials(credentials UserCredentials) error {
	m.creds[credentials.Username] = credentials
	return nil
}

func (m *memCredentialStore) ListCredentials() ([]UserCredentials, error) {
	out := make([]UserCredentials, 0, len(m.creds))
	for _, c := range m.creds {
		out = append(out, c)
	}
	return out, nil
}

func TestAuthService(t *testing.T) {
	createService := func(t *testing.T, store CredentialStore) *AuthService {
		t.Helper()
		svc, err := NewAuthService(context.Background(), Config{TokenExpiry: time.Hour}, store)
		if err != nil {
			t.Fatalf("failed to create service: %v", err)
		}
		return svc
	}

	t.Run("Register", func(t *testing.T) {
		store := newMemCredentialStore()
		svc := createService(t, store)

		identity, err := svc.Register("alice", "pass1")
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if identity.Username != "alice" {
			t.Errorf("expected username alice, got %s", identity.Username)
		}
		if identity.UserID == "" {
			t.Error("expected generated user id")
		}

		if _, err := svc.Register("alice", "pass2"); !errors.Is(err, ErrUserExists) {
			t.Errorf("expected ErrUserExists, got %v", err)
		}

		if _, ok := store.creds["alice"]; !ok {
			t.Error("expected credentials persisted to store")
		}
		if store.creds["alice"].PasswordHash == "pass1" {
			t.Error("password stored unhashed")
		}
	})

	t.Run("RegisterValidation", func(t *testing.T) {
		svc := createService(t, nil)

		if _, err := svc.Register("bad name!", "pass"); err == nil {
			t.Error("expected invalid username to be rejected")
		}
		if _, err := svc.Register("alice", ""); err == nil {
			t.Error("expected empty password to be rejected")
		}
	})

	t.Run("LoginAndToken", func(t *testing.T) {
		svc := createService(t, nil)
		if _, err := svc.Register("alice", "pass1"); err != nil {
			t.Fatalf("failed to set up user: %v", err)
		}

		resp := svc.Login(LoginRequest{Username: "alice", Password: "wrong"})
		if resp.Success || resp.Token != "" {
			t.Errorf("expected failed login, got %+v", resp)
		}

		resp = svc.Login(LoginRequest{Username: "nobody", Password: "pass1"})
		if resp.Success {
			t.Errorf("expected failed login for unknown user, got %+v", resp)
		}

		resp = svc.Login(LoginRequest{Username: "alice", Password: "pass1"})
		if !resp.Success || resp.Token == "" {
			t.Fatalf("expected successful login, got %+v", resp)
		}

		identity, err := svc.GetIdentity(resp.Token)
		if err != nil {
			t.Fatalf("GetIdentity failed: %v", err)
		}
		if identity.Username != "alice" || identity.UserID != resp.UserID {
			t.Errorf("token resolved to wrong identity: %+v", identity)
		}

		if _, err := svc.GetIdentity("bogus"); err == nil {
			t.Error("expected unknown token to be rejected")
		}
	})

	t.Run("Logoff", func(t *testing.T) {
		svc := createService(t, nil)
		if _, err := svc.Register("alice", "pass1"); err != nil {
			t.Fatalf("failed to set up user: %v", err)
		}
		resp := svc.Login(LoginRequest{Username: "alice", Password: "pass1"})
		if !resp.Success {
			t.Fatalf("login failed: %+v", resp)
		}

		if err := svc.Logoff(resp.Token); err != nil {
			t.Fatalf("Logoff failed: %v", err)
		}
		if _, err := svc.GetIdentity(resp.Token); err == nil {
			t.Error("expected token invalid after logoff")
		}
	})

	t.Run("LoadFromStore", func(t *testing.T) {
		store := newMemCredentialStore()
		svc := createService(t, store)
		if _, err := svc.Register("alice", "pass1"); err != nil {
			t.Fatalf("failed to set up user: %v", err)
		}

		// A fresh service over the same store sees the account.
		svc2 := createService(t, store)
		resp := svc2.Login(LoginRequest{Username: "alice", Password: "pass1"})
		if !resp.Success {
			t.Errorf("expected login against reloaded credentials, got %+v", resp)
		}
	})
}
