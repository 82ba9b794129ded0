package auth

import (
	"context"
	"errors"
	"regexp"
	"scriptroom/domain"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 128
)

var usernameFormat = regexp.MustCompile(`^[a-z0-9_]{3,20}$`)

type service struct {
	userRepo       UserRepo
	passwordHasher PasswordHasher
	tokenManager   TokenManager
	now            func() time.Time
}

func NewService(userRepo UserRepo, passwordHasher PasswordHasher, tokenManager TokenManager) *service {
	return &service{
		userRepo:       userRepo,
		passwordHasher: passwordHasher,
		tokenManager:   tokenManager,
		now:            time.Now,
	}
}

func validateCredentialsFormat(username, password string) error {
	if !usernameFormat.MatchString(username) {
		return ErrInvalidUsernameFormat
	}

	length := utf8.RuneCountInString(password)
	if length < minPasswordLength {
		return ErrWeakPassword
	}
	if length > maxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}

// Signup creates the account and returns a session token for it.
func (s *service) Signup(ctx context.Context, username, password string) (string, error) {
	if err := validateCredentialsFormat(username, password); err != nil {
		return "", err
	}

	passwordHash, err := s.passwordHasher.Hash(password)
	if err != nil {
		return "", err
	}

	id, err := s.userRepo.CreateUser(ctx, username, passwordHash)
	if err != nil {
		return "", err
	}

	return s.tokenManager.Generate(id, s.now())
}

func (s *service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.userRepo.GetUserByUsername(ctx, username)
	if err != nil {
		return "", err
	}

	match, err := s.passwordHasher.Compare(user.PasswordHash, password)
	if err != nil {
		return "", err
	}
	if !match {
		return "", ErrIncorrectPassword
	}

	return s.tokenManager.Generate(user.Id, s.now())
}

// VerifyToken returns the user id if the token is valid.
func (s *service) VerifyToken(token string) (string, error) {
	return s.tokenManager.Verify(token)
}

func (s *service) GenerateToken(id string) (string, error) {
	return s.tokenManager.Generate(id, s.now())
}

// Verify checks a username/password pair without issuing a token.
func (s *service) Verify(ctx context.Context, identity, secret string) bool {
	user, err := s.userRepo.GetUserByUsername(ctx, identity)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			log.Error().Err(err).Str("identity", identity).Msg("credential lookup failed")
		}
		return false
	}

	match, err := s.passwordHasher.Compare(user.PasswordHash, secret)
	if err != nil {
		log.Error().Err(err).Str("identity", identity).Msg("credential comparison failed")
		return false
	}
	return match
}

// Create registers a new identity. It reports false when the identity is
// taken or the credentials are rejected.
func (s *service) Create(ctx context.Context, identity, secret string) bool {
	if err := validateCredentialsFormat(identity, secret); err != nil {
		return false
	}

	passwordHash, err := s.passwordHasher.Hash(secret)
	if err != nil {
		log.Error().Err(err).Str("identity", identity).Msg("password hashing failed")
		return false
	}

	if _, err := s.userRepo.CreateUser(ctx, identity, passwordHash); err != nil {
		if !errors.Is(err, domain.ErrDuplicateUsername) {
			log.Error().Err(err).Str("identity", identity).Msg("credential creation failed")
		}
		return false
	}
	return true
}
