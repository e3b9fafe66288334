package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong username or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
)

// Service owns the active session and handles authentication. Subscribers
// registered through SubscribeSessions receive the current session snapshot
// immediately and every subsequent change, so late subscription never needs
// polling.
type Service struct {
	repo      Repository
	sessions  SessionStore // optional; local backend only
	jwtSecret []byte

	mu      sync.Mutex
	current Session
	subs    map[int]func(Session)
	nextSub int
}

// NewService creates a new identity service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		subs:      make(map[int]func(Session)),
	}
}

// WithSessionStore attaches a persistence layer for the active session.
func (s *Service) WithSessionStore(store SessionStore) *Service {
	s.sessions = store
	return s
}

// Restore loads a previously persisted session, if the session store holds
// one, and notifies subscribers.
func (s *Service) Restore(ctx context.Context) error {
	if s.sessions == nil {
		return nil
	}
	session, ok, err := s.sessions.LoadSession(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	s.setSession(session)
	return nil
}

// Register creates a new account and opens a session for it.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Session, error) {
	if len(req.Password) < 8 {
		return Session{}, ErrWeakPassword
	}
	if req.Username == "" || req.Email == "" {
		return Session{}, fmt.Errorf("auth: username and email are required")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, fmt.Errorf("auth: hash password: %w", err)
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Username
	}

	user, err := s.repo.CreateUser(ctx, CreateUserParams{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(passwordHash),
		DisplayName:  displayName,
	})
	if err != nil {
		return Session{}, err
	}

	return s.openSession(ctx, user)
}

// Login authenticates an account and opens a session.
func (s *Service) Login(ctx context.Context, req LoginRequest) (Session, error) {
	user, err := s.repo.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	return s.openSession(ctx, user)
}

// Logout destroys the active session and notifies subscribers with the zero
// session.
func (s *Service) Logout(ctx context.Context) error {
	if s.sessions != nil {
		if err := s.sessions.ClearSession(ctx); err != nil {
			return err
		}
	}
	s.setSession(Session{})
	return nil
}

// Current returns the active session snapshot.
func (s *Service) Current() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SubscribeSessions registers fn for session changes. fn is invoked
// immediately with the current snapshot, then on every change. The returned
// cancel func removes the subscription.
func (s *Service) SubscribeSessions(fn func(Session)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	snapshot := s.current
	s.mu.Unlock()

	fn(snapshot)

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// SaveAvatar stores a profile picture reference for the logged-in user and
// refreshes the session.
func (s *Service) SaveAvatar(ctx context.Context, avatarURL string) (Session, error) {
	current := s.Current()
	if !current.Active() {
		return Session{}, fmt.Errorf("auth: no active session")
	}

	user, err := s.repo.UpdateAvatar(ctx, current.UserID, avatarURL)
	if err != nil {
		return Session{}, err
	}

	current.AvatarURL = user.AvatarURL
	if s.sessions != nil {
		if err := s.sessions.SaveSession(ctx, current); err != nil {
			return Session{}, err
		}
	}
	s.setSession(current)
	return current, nil
}

// VerifyToken validates a session token and returns the user ID.
func (s *Service) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("auth: parse token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		userID, ok := claims["user_id"].(string)
		if !ok {
			return "", fmt.Errorf("auth: invalid user_id in token")
		}
		return userID, nil
	}

	return "", fmt.Errorf("auth: invalid token")
}

func (s *Service) openSession(ctx context.Context, user User) (Session, error) {
	token, err := s.generateToken(user.ID)
	if err != nil {
		return Session{}, fmt.Errorf("auth: generate token: %w", err)
	}

	session := Session{
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
		Token:     token,
	}

	if s.sessions != nil {
		if err := s.sessions.SaveSession(ctx, session); err != nil {
			return Session{}, err
		}
	}

	s.setSession(session)
	return session, nil
}

// setSession swaps the active session and fans it out. Callbacks run outside
// the lock so a subscriber may call back into the service.
func (s *Service) setSession(session Session) {
	s.mu.Lock()
	s.current = session
	fns := make([]func(Session), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(session)
	}
}

// generateToken creates a session token for the user.
func (s *Service) generateToken(userID string) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(24 * time.Hour).Unix(), // Token expires in 24 hours
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}
