package models

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rohanthewiz/serr"
	"golang.org/x/crypto/bcrypt"
)

// User is an authenticated editor account. The sync engine itself never
// authenticates (it only needs the HTTP layer's yes/no), so this stays
// deliberately small: credentials, identity, activity timestamps.
type User struct {
	GUID         string       `json:"guid"`
	Username     string       `json:"username"`
	PasswordHash string       `json:"-"` // never exposed in JSON
	IsActive     bool         `json:"is_active"`
	CreatedAt    time.Time    `json:"created_at"`
	LastLoginAt  sql.NullTime `json:"last_login_at,omitempty"`
}

// CreateUsersTableSQL is the users DDL, run by the store migration.
const CreateUsersTableSQL = `
CREATE TABLE IF NOT EXISTS users (
    guid          VARCHAR PRIMARY KEY,
    username      VARCHAR NOT NULL UNIQUE,
    password_hash VARCHAR NOT NULL,
    is_active     BOOLEAN DEFAULT true,
    created_at    TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    last_login_at TIMESTAMP
)`

// UserRegisterInput carries registration data; the password arrives in
// plaintext and is hashed before storage.
type UserRegisterInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserLoginInput carries login credentials.
type UserLoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserOutput is the JSON-safe view of a User.
type UserOutput struct {
	GUID      string    `json:"guid"`
	Username  string    `json:"username"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// ToOutput converts a User for API responses, dropping the hash.
func (u *User) ToOutput() UserOutput {
	return UserOutput{
		GUID:      u.GUID,
		Username:  u.Username,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
}

// bcryptCost balances security against login latency.
const bcryptCost = 12

// HashPassword creates a bcrypt hash of the plaintext password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", serr.Wrap(err, "failed to hash password")
	}
	return string(hash), nil
}

// CheckPassword verifies a plaintext password against its hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePassword enforces the minimum password requirement.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return serr.New("password must be at least 8 characters")
	}
	return nil
}

// ValidateUsername requires 3-50 alphanumeric/underscore characters.
func ValidateUsername(username string) error {
	if len(username) < 3 {
		return serr.New("username must be at least 3 characters")
	}
	if len(username) > 50 {
		return serr.New("username must be at most 50 characters")
	}
	for _, c := range username {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_') {
			return serr.New("username can only contain letters, numbers, and underscores")
		}
	}
	return nil
}

// CreateUser registers a new account, hashing the password and
// assigning a GUID.
func (s *LocalStore) CreateUser(input UserRegisterInput) (*User, error) {
	if err := ValidateUsername(input.Username); err != nil {
		return nil, err
	}
	if err := ValidatePassword(input.Password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	user := &User{
		GUID:         uuid.New().String(),
		Username:     input.Username,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT INTO users (guid, username, password_hash, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		user.GUID, user.Username, user.PasswordHash, user.IsActive, user.CreatedAt,
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") ||
			strings.Contains(strings.ToLower(err.Error()), "duplicate") {
			return nil, serr.New("username already exists")
		}
		return nil, serr.Wrap(err, "failed to create user")
	}

	return user, nil
}

// GetUserByUsername returns nil, nil when no such user exists.
func (s *LocalStore) GetUserByUsername(username string) (*User, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	user := &User{}
	err := s.db.QueryRow(
		`SELECT guid, username, password_hash, is_active, created_at, last_login_at
		 FROM users WHERE username = ?`, username,
	).Scan(&user.GUID, &user.Username, &user.PasswordHash, &user.IsActive,
		&user.CreatedAt, &user.LastLoginAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to get user by username")
	}
	return user, nil
}

// AuthenticateUser validates credentials, returning nil for invalid
// credentials or a disabled account. Updates last_login_at on success.
func (s *LocalStore) AuthenticateUser(input UserLoginInput) (*User, error) {
	user, err := s.GetUserByUsername(input.Username)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		return nil, nil
	}
	if !CheckPassword(input.Password, user.PasswordHash) {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(
		`UPDATE users SET last_login_at = CURRENT_TIMESTAMP WHERE guid = ?`,
		user.GUID); err != nil {
		return nil, serr.Wrap(err, "failed to update last login")
	}
	return user, nil
}
