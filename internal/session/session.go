// Package session owns the signed-in user: the bearer token handed to the
// gateway, a bcrypt credential cache for signing in without a network, and
// the logout fan-out triggered by 401 responses.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"gaspos/client/internal/devicestore"
	"gaspos/client/internal/domain"
	"gaspos/client/internal/logger"
	"gaspos/client/internal/normalize"
)

const StorageKey = "auth-storage"

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNoCachedSession    = errors.New("no cached session for offline login")
	ErrNotLoggedIn        = errors.New("not logged in")
	errNoToken            = errors.New("server returned no token")
)

type Authenticator interface {
	Login(ctx context.Context, email, password string) (domain.LoginResponse, error)
}

type persisted struct {
	Token        string          `json:"token,omitempty"`
	User         json.RawMessage `json:"user,omitempty"`
	Email        string          `json:"email"`
	PasswordHash string          `json:"passwordHash"`
	// OfflineUser is the profile restored by OfflineLogin; it outlives logout.
	OfflineUser json.RawMessage `json:"offlineUser,omitempty"`
}

type Manager struct {
	auth   Authenticator
	device devicestore.Store
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	token    string
	user     domain.User
	email    string
	hash     string
	offline  domain.User
	onLogout []func(context.Context)
}

func NewManager(auth Authenticator, device devicestore.Store, log *zap.Logger) *Manager {
	return &Manager{
		auth:   auth,
		device: device,
		logger: logger.OrNop(log).Named("session"),
		now:    time.Now,
	}
}

// Login signs in against the server and caches the credentials so the same
// user can sign in later without a connection.
func (m *Manager) Login(ctx context.Context, email, password string) (domain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return domain.User{}, ErrInvalidCredentials
	}
	resp, err := m.auth.Login(ctx, email, password)
	if err != nil {
		return domain.User{}, fmt.Errorf("login: %w", err)
	}
	if resp.Token == "" {
		return domain.User{}, fmt.Errorf("login: %w", errNoToken)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash credentials: %w", err)
	}
	resp.User.Password = ""

	m.mu.Lock()
	m.token = resp.Token
	m.user = resp.User
	m.email = email
	m.hash = string(hash)
	m.offline = resp.User
	m.mu.Unlock()

	m.persist(ctx)
	m.logger.Info("logged in", zap.String("user", resp.User.ID), zap.String("role", resp.User.Role))
	return resp.User, nil
}

// OfflineLogin signs in from the credential cache. The cached token is
// restored as-is; it may be expired, in which case remote calls will 401.
func (m *Manager) OfflineLogin(ctx context.Context, email, password string) (domain.User, error) {
	if _, err := m.Restore(ctx); err != nil {
		return domain.User{}, err
	}

	m.mu.RLock()
	cachedEmail, hash, user := m.email, m.hash, m.offline
	m.mu.RUnlock()

	if cachedEmail == "" || hash == "" {
		return domain.User{}, ErrNoCachedSession
	}
	if !strings.EqualFold(cachedEmail, strings.TrimSpace(email)) {
		return domain.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}

	m.mu.Lock()
	m.user = user
	m.mu.Unlock()
	m.persist(ctx)
	return user, nil
}

// Restore loads the persisted session. It reports whether a token was found.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	if m.device == nil {
		return false, nil
	}
	raw, ok, err := m.device.Get(ctx, StorageKey)
	if err != nil {
		return false, fmt.Errorf("restore session: %w", err)
	}
	if !ok {
		return false, nil
	}
	var p persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		return false, fmt.Errorf("restore session: %w", err)
	}
	user, err := decodeUser(p.User)
	if err != nil {
		return false, fmt.Errorf("restore session user: %w", err)
	}
	offline, err := decodeUser(p.OfflineUser)
	if err != nil {
		return false, fmt.Errorf("restore offline user: %w", err)
	}

	m.mu.Lock()
	m.token = p.Token
	m.user = user
	m.email = p.Email
	m.hash = p.PasswordHash
	m.offline = offline
	m.mu.Unlock()
	return p.Token != "", nil
}

func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

func (m *Manager) User() (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == "" && m.user.ID == "" {
		return domain.User{}, ErrNotLoggedIn
	}
	return m.user, nil
}

func (m *Manager) LoggedIn() bool {
	return m.Token() != ""
}

// Expired reports whether the token's exp claim is in the past. The token
// is not verified; the server remains the judge of its validity.
func (m *Manager) Expired() bool {
	token := m.Token()
	if token == "" {
		return true
	}
	claims := &jwtlib.RegisteredClaims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !m.now().Before(claims.ExpiresAt.Time)
}

// OnLogout registers fn to run after every logout.
func (m *Manager) OnLogout(fn func(context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLogout = append(m.onLogout, fn)
}

// Logout drops the token and user. The credential cache is kept so the same
// user can sign in offline next time.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	wasLoggedIn := m.token != "" || m.user.ID != ""
	m.token = ""
	m.user = domain.User{}
	hooks := slices.Clone(m.onLogout)
	m.mu.Unlock()

	m.persist(ctx)
	if !wasLoggedIn {
		return
	}
	m.logger.Info("logged out")
	for _, fn := range hooks {
		fn(ctx)
	}
}

// Forget logs out and also drops the cached credentials.
func (m *Manager) Forget(ctx context.Context) error {
	m.Logout(ctx)
	m.mu.Lock()
	m.email, m.hash = "", ""
	m.offline = domain.User{}
	m.mu.Unlock()
	if m.device == nil {
		return nil
	}
	return m.device.Delete(ctx, StorageKey)
}

// HandleUnauthorized is wired as the gateway's 401 handler.
func (m *Manager) HandleUnauthorized() {
	m.logger.Warn("server rejected the session token")
	m.Logout(context.Background())
}

func (m *Manager) persist(ctx context.Context) {
	if m.device == nil {
		return
	}
	m.mu.RLock()
	p := persisted{Token: m.token, Email: m.email, PasswordHash: m.hash}
	var err error
	if m.user.ID != "" {
		p.User, err = json.Marshal(m.user)
	}
	if err == nil && m.offline.ID != "" {
		p.OfflineUser, err = json.Marshal(m.offline)
	}
	m.mu.RUnlock()
	if err == nil {
		var payload []byte
		if payload, err = json.Marshal(p); err == nil {
			err = m.device.Set(context.WithoutCancel(ctx), StorageKey, payload)
		}
	}
	if err != nil {
		m.logger.Warn("persist session", zap.Error(err))
	}
}

func decodeUser(raw json.RawMessage) (domain.User, error) {
	if len(raw) == 0 {
		return domain.User{}, nil
	}
	return normalize.Decode[domain.User](raw)
}
