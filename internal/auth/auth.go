package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"palaver/internal/content"
	"palaver/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiry = 24 * time.Hour
	loginFailedMessage = "Invalid credentials"
)

var (
	ErrUserExists = errors.New("user already exists")
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	Token       string `json:"token,omitempty"`
	TokenExpiry int64  `json:"tokenExpiry,omitempty"`
	Username    string `json:"username,omitempty"`
	UserID      string `json:"userId,omitempty"`
}

// UserCredentials is a registered account: the identity the core binds to
// connections plus the password hash the core never looks at.
type UserCredentials struct {
	models.Identity
	PasswordHash string
	CreatedAt    int64
}

// CredentialStore persists accounts across restarts. It is optional: with
// no durable store configured, accounts live only for the process lifetime,
// same as the fallback message store.
type CredentialStore interface {
	UpsertCredentials(credentials UserCredentials) error
	ListCredentials() ([]UserCredentials, error)
}

type Config struct {
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

func (c *Config) Validate() error {
	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	return nil
}

// AuthService verifies credentials and issues opaque bearer tokens.
// Live tokens are held in a TTL cache so expiry needs no bookkeeping.
type AuthService struct {
	Config
	users      *geche.Locker[string, *UserCredentials]
	liveTokens geche.Geche[string, models.Identity]
	store      CredentialStore
	now        func() time.Time
}

func NewAuthService(ctx context.Context, config Config, store CredentialStore) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	as := &AuthService{
		Config:     config,
		users:      geche.NewLocker[string, *UserCredentials](geche.NewMapCache[string, *UserCredentials]()),
		liveTokens: geche.NewMapTTLCache[string, models.Identity](ctx, config.TokenExpiry, time.Minute),
		store:      store,
		now:        time.Now,
	}

	if store != nil {
		creds, err := store.ListCredentials()
		if err != nil {
			return nil, fmt.Errorf("failed to load credentials: %w", err)
		}
		tx := as.users.Lock()
		for i := range creds {
			c := creds[i]
			tx.Set(c.Username, &c)
		}
		tx.Unlock()
		slog.Info("loaded user credentials", "count", len(creds))
	}

	return as, nil
}

// Register creates a new account. The username must pass content
// validation and be unused.
func (as *AuthService) Register(username, password string) (models.Identity, error) {
	if err := content.ValidateUsername(username); err != nil {
		return models.Identity{}, err
	}
	if password == "" {
		return models.Identity{}, errors.New("password cannot be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.Identity{}, fmt.Errorf("failed to hash password: %w", err)
	}

	tx := as.users.Lock()
	defer tx.Unlock()
	if _, err := tx.Get(username); err == nil {
		return models.Identity{}, ErrUserExists
	}

	creds := &UserCredentials{
		Identity: models.Identity{
			Username: username,
			UserID:   uuid.NewString(),
		},
		PasswordHash: string(hash),
		CreatedAt:    as.now().Unix(),
	}
	tx.Set(username, creds)

	if as.store != nil {
		if err := as.store.UpsertCredentials(*creds); err != nil {
			slog.Error("failed to persist credentials", "username", username, "error", err)
		}
	}

	return creds.Identity, nil
}

func (as *AuthService) Login(req LoginRequest) LoginResponse {
	tx := as.users.Lock()
	user, err := tx.Get(req.Username)
	tx.Unlock()
	if err != nil {
		return LoginResponse{Success: false, Message: loginFailedMessage}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResponse{Success: false, Message: loginFailedMessage}
	}

	token, err := as.generateToken()
	if err != nil {
		slog.Error("login failed", "user_id", user.UserID, "error", err)
		return LoginResponse{Success: false, Message: "internal error"}
	}

	as.liveTokens.Set(token, user.Identity)

	return LoginResponse{
		Success:     true,
		Token:       token,
		TokenExpiry: as.now().Unix() + int64(as.TokenExpiry.Seconds()),
		Username:    user.Username,
		UserID:      user.UserID,
	}
}

// LookupIdentity returns the registered identity for a username,
// whether or not that user is currently connected.
func (as *AuthService) LookupIdentity(username string) (models.Identity, bool) {
	tx := as.users.Lock()
	user, err := tx.Get(username)
	tx.Unlock()
	if err != nil {
		return models.Identity{}, false
	}
	return user.Identity, true
}

func (as *AuthService) Logoff(token string) error {
	return as.liveTokens.Del(token)
}

// GetIdentity resolves a live token to the identity it was issued for.
func (as *AuthService) GetIdentity(token string) (models.Identity, error) {
	return as.liveTokens.Get(token)
}

func (as *AuthService) generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
