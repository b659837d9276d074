// ABOUTME: Account signup and login issuing bearer tokens
// ABOUTME: Passwords are bcrypt hashed; unknown emails still pay for a hash comparison

package tasks

import (
	"context"
	"errors"
	"strings"

	"github.com/2389/taskboard-gateway/internal/auth"
	"github.com/2389/taskboard-gateway/internal/store"
)

// Session is returned by signup and login.
type Session struct {
	Token string      `json:"token"`
	User  UserSummary `json:"user"`
}

// Signup creates an account and returns a session for it. Creating an
// admin requires an admin caller, unless no accounts exist yet.
func (s *Service) Signup(ctx context.Context, caller *auth.Principal, in SignupInput) (*Session, error) {
	if s.tokens == nil {
		return nil, errInternal("Signup is not available", errors.New("no token issuer configured"))
	}
	role, issues := in.validate()
	if len(issues) > 0 {
		return nil, errInvalidPayload(issues)
	}

	if role == store.RoleAdmin && !caller.IsAdmin() {
		n, err := s.store.CountUsers(ctx)
		if err != nil {
			return nil, errInternal("Error creating user", err)
		}
		if n > 0 {
			return nil, errForbidden("Admin access required")
		}
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, errInternal("Error creating user", err)
	}

	now := s.now()
	user := &store.User{
		ID:           store.NewID(),
		Name:         strings.TrimSpace(in.Name),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, errConflict("User exists")
		}
		return nil, errInternal("Error creating user", err)
	}

	s.logger.Info("user signed up", "user_id", user.ID, "role", user.Role)
	return s.session(user)
}

// Login checks an email and password and returns a new session.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Session, error) {
	if s.tokens == nil {
		return nil, errInternal("Login is not available", errors.New("no token issuer configured"))
	}
	if issues := in.validate(); len(issues) > 0 {
		return nil, errInvalidPayload(issues)
	}

	user, err := s.store.GetUserByEmail(ctx, in.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, errInternal("Error logging in", err)
	}

	hash := ""
	if user != nil {
		hash = user.PasswordHash
	}
	if err := auth.CheckPassword(hash, in.Password); err != nil || user == nil {
		s.logger.Debug("login failed", "email", in.Email)
		return nil, errUnauthenticated("Invalid credentials")
	}

	return s.session(user)
}

func (s *Service) session(u *store.User) (*Session, error) {
	token, err := s.tokens.Generate(u.ID, s.tokenTTL)
	if err != nil {
		return nil, errInternal("Error issuing token", err)
	}
	return &Session{Token: token, User: *userSummary(u)}, nil
}
