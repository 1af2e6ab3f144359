// Package auth authenticates users, issues access tokens and gates actions by
// role.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"nexpos/backend/internal/domain"
	"nexpos/backend/internal/store"
)

const issuer = "nexpos"

const (
	minUsernameLen = 3
	minPasswordLen = 8
)

var (
	// ErrInvalidCredentials is returned for unknown users, wrong passwords and
	// inactive accounts alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

type UserStore interface {
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	UpdateUserPassword(ctx context.Context, username string, passwordHash string) error
	SetUserActive(ctx context.Context, username string, active bool) (*domain.User, error)
}

type Manager struct {
	secret    []byte
	tokenTTL  time.Duration
	cost      int
	users     UserStore
	dummyHash []byte
	compare   func(hash []byte, password []byte) error
	now       func() time.Time
}

type posClaims struct {
	jwtlib.RegisteredClaims
	UserID int64  `json:"uid"`
	Role   string `json:"role"`
}

func NewManager(secret string, tokenTTL time.Duration, cost int, users UserStore) (*Manager, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth secret is required")
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	// Compared against when the username does not exist so that both paths
	// spend one bcrypt verification.
	dummy, err := bcrypt.GenerateFromPassword([]byte("nexpos-dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}

	return &Manager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		cost:      cost,
		users:     users,
		dummyHash: dummy,
		compare:   bcrypt.CompareHashAndPassword,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Authenticate verifies a username and password. Hashes made with a lower cost
// than configured are upgraded after a successful check.
func (m *Manager) Authenticate(ctx context.Context, username string, password string) (domain.User, error) {
	username = normalizeUsername(username)
	user, err := m.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = m.compare(m.dummyHash, []byte(password))
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}

	if !m.verifyPassword(user.PasswordHash, password) || !user.Active {
		return domain.User{}, ErrInvalidCredentials
	}

	if cost, err := bcrypt.Cost([]byte(user.PasswordHash)); err == nil && cost < m.cost {
		if hashed, err := HashPassword(password, m.cost); err == nil {
			if err := m.users.UpdateUserPassword(ctx, user.Username, hashed); err == nil {
				user.PasswordHash = hashed
			}
		}
	}
	return *user, nil
}

func (m *Manager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	user, err := m.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	token, expiresAt, err := m.IssueToken(user)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Username:    user.Username,
		Role:        user.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (m *Manager) IssueToken(user domain.User) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.tokenTTL)
	claims := posClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    issuer,
		},
		UserID: user.ID,
		Role:   user.Role,
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func (m *Manager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &posClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	},
		jwtlib.WithValidMethods([]string{"HS256"}),
		jwtlib.WithIssuer(issuer),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(m.now),
	)
	if err != nil || !token.Valid {
		return domain.Actor{}, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, ErrInvalidToken
	}
	return domain.Actor{UserID: claims.UserID, Username: sub, Role: claims.Role}, nil
}

// Resolve parses a token and re-reads the account, so deactivated users and
// role changes take effect before the token expires.
func (m *Manager) Resolve(ctx context.Context, tokenStr string) (domain.Actor, error) {
	actor, err := m.ParseToken(tokenStr)
	if err != nil {
		return domain.Actor{}, err
	}
	user, err := m.users.GetUserByUsername(ctx, actor.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Actor{}, ErrInvalidToken
		}
		return domain.Actor{}, err
	}
	if !user.Active {
		return domain.Actor{}, ErrInvalidToken
	}
	return domain.Actor{UserID: user.ID, Username: user.Username, Role: user.Role}, nil
}

// Authorize fails with store.ErrForbidden unless the actor holds one of roles.
func Authorize(actor domain.Actor, roles ...string) error {
	if actor.Username == "" {
		return fmt.Errorf("%w: authentication required", store.ErrForbidden)
	}
	for _, role := range roles {
		if actor.Role == role {
			return nil
		}
	}
	return fmt.Errorf("%w: %s role required", store.ErrForbidden, strings.Join(roles, " or "))
}

func (m *Manager) CreateUser(ctx context.Context, actor domain.Actor, req domain.UserCreateRequest) (domain.User, error) {
	if err := Authorize(actor, domain.RoleAdmin); err != nil {
		return domain.User{}, err
	}

	username := normalizeUsername(req.Username)
	if len(username) < minUsernameLen {
		return domain.User{}, store.Invalid(fmt.Sprintf("username must be at least %d characters", minUsernameLen))
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.User{}, store.Invalid("username must not contain spaces")
	}
	if err := validatePassword(req.Password); err != nil {
		return domain.User{}, err
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = domain.RoleCashier
	}
	if role != domain.RoleAdmin && role != domain.RoleCashier {
		return domain.User{}, store.Invalid("role must be admin or cashier")
	}

	hash, err := HashPassword(req.Password, m.cost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	created, err := m.users.CreateUser(ctx, domain.User{
		Username:     username,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(req.FullName),
		Role:         role,
		Active:       true,
	})
	if err != nil {
		return domain.User{}, err
	}
	return *created, nil
}

func (m *Manager) ListUsers(ctx context.Context, actor domain.Actor) ([]domain.User, error) {
	if err := Authorize(actor, domain.RoleAdmin); err != nil {
		return nil, err
	}
	return m.users.ListUsers(ctx)
}

func (m *Manager) ResetPassword(ctx context.Context, actor domain.Actor, username string, password string) error {
	if err := Authorize(actor, domain.RoleAdmin); err != nil {
		return err
	}
	if err := validatePassword(password); err != nil {
		return err
	}
	hash, err := HashPassword(password, m.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return m.users.UpdateUserPassword(ctx, normalizeUsername(username), hash)
}

func (m *Manager) SetUserActive(ctx context.Context, actor domain.Actor, username string, active bool) (domain.User, error) {
	if err := Authorize(actor, domain.RoleAdmin); err != nil {
		return domain.User{}, err
	}
	username = normalizeUsername(username)
	if !active && username == actor.Username {
		return domain.User{}, store.Invalid("you cannot deactivate your own account")
	}
	user, err := m.users.SetUserActive(ctx, username, active)
	if err != nil {
		return domain.User{}, err
	}
	return *user, nil
}

// HashPassword returns a bcrypt hash; cost and salt are encoded in the result.
func HashPassword(password string, cost int) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func validatePassword(password string) error {
	if len(strings.TrimSpace(password)) < minPasswordLen {
		return store.Invalid(fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}
	return nil
}

// verifyPassword spends exactly one bcrypt compare on every path, including
// empty input and unusable stored hashes.
func (m *Manager) verifyPassword(stored string, input string) bool {
	if input == "" || !isPasswordHash(stored) {
		_ = m.compare(m.dummyHash, []byte(input))
		return false
	}
	return m.compare([]byte(stored), []byte(input)) == nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
