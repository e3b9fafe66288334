package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Fixed keys in the auth blob table. The whole user set lives under one key
// and the current session under another; both are read and written wholesale.
const (
	usersKey   = "users"
	sessionKey = "auth_user"
)

// LocalRepository implements Repository and SessionStore on the embedded
// SQLite file, one serialized blob per key.
type LocalRepository struct {
	db *sql.DB
	mu sync.Mutex

	idGenerator func() string
	now         func() time.Time
}

// NewLocalRepository prepares the auth blob table on the given handle.
func NewLocalRepository(db *sql.DB) (*LocalRepository, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS auth_blobs (
		key TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("auth: create blob table: %w", err)
	}
	return &LocalRepository{
		db:          db,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}, nil
}

// WithIDGenerator overrides user id generation, for tests.
func (r *LocalRepository) WithIDGenerator(gen func() string) *LocalRepository {
	r.idGenerator = gen
	return r
}

// WithClock overrides the timestamp source, for tests.
func (r *LocalRepository) WithClock(now func() time.Time) *LocalRepository {
	r.now = now
	return r
}

// CreateUser appends an account to the user-set blob and rewrites it.
func (r *LocalRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, err := r.loadUsers(ctx)
	if err != nil {
		return User{}, err
	}
	for _, u := range users {
		if u.Username == params.Username {
			return User{}, ErrDuplicateUsername
		}
	}

	now := r.now().UTC()
	user := User{
		ID:           r.idGenerator(),
		Username:     params.Username,
		Email:        params.Email,
		PasswordHash: params.PasswordHash,
		DisplayName:  params.DisplayName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	users = append(users, user)
	if err := r.saveBlob(ctx, usersKey, users); err != nil {
		return User{}, err
	}
	return user, nil
}

// GetUserByUsername retrieves an account from the user-set blob.
func (r *LocalRepository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, err := r.loadUsers(ctx)
	if err != nil {
		return User{}, err
	}
	for _, u := range users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

// GetUserByID retrieves an account from the user-set blob.
func (r *LocalRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, err := r.loadUsers(ctx)
	if err != nil {
		return User{}, err
	}
	for _, u := range users {
		if u.ID == userID {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

// UpdateAvatar stores a new profile picture reference in the user-set blob.
func (r *LocalRepository) UpdateAvatar(ctx context.Context, userID string, avatarURL string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, err := r.loadUsers(ctx)
	if err != nil {
		return User{}, err
	}
	for i, u := range users {
		if u.ID != userID {
			continue
		}
		u.AvatarURL = &avatarURL
		u.UpdatedAt = r.now().UTC()
		users[i] = u
		if err := r.saveBlob(ctx, usersKey, users); err != nil {
			return User{}, err
		}
		return u, nil
	}
	return User{}, ErrUserNotFound
}

// SaveSession persists the active session blob under its fixed key.
func (r *LocalRepository) SaveSession(ctx context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveBlob(ctx, sessionKey, s)
}

// LoadSession reads back the persisted session, if any.
func (r *LocalRepository) LoadSession(ctx context.Context) (Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s Session
	ok, err := r.loadBlob(ctx, sessionKey, &s)
	if err != nil || !ok {
		return Session{}, false, err
	}
	return s, s.Active(), nil
}

// ClearSession removes the persisted session blob.
func (r *LocalRepository) ClearSession(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM auth_blobs WHERE key = ?`, sessionKey); err != nil {
		return fmt.Errorf("auth: clear session blob: %w", err)
	}
	return nil
}

func (r *LocalRepository) loadUsers(ctx context.Context) ([]User, error) {
	var users []User
	if _, err := r.loadBlob(ctx, usersKey, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *LocalRepository) loadBlob(ctx context.Context, key string, dst any) (bool, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM auth_blobs WHERE key = ?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("auth: load blob %s: %w", key, err)
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return false, fmt.Errorf("auth: decode blob %s: %w", key, err)
	}
	return true, nil
}

func (r *LocalRepository) saveBlob(ctx context.Context, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("auth: encode blob %s: %w", key, err)
	}
	if _, err := r.db.ExecContext(ctx, `INSERT INTO auth_blobs (key, payload) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET payload = excluded.payload`, key, payload); err != nil {
		return fmt.Errorf("auth: save blob %s: %w", key, err)
	}
	return nil
}
