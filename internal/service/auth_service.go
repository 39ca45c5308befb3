package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/848838/ChatApp/internal/domain"
	"github.com/848838/ChatApp/internal/identity"
	"github.com/848838/ChatApp/internal/repository"
	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
)

type AuthService struct {
	userRepo repository.UserRepository
	issuer   *identity.Issuer
	resolver identity.Resolver
}

func NewAuthService(userRepo repository.UserRepository, issuer *identity.Issuer, resolver identity.Resolver) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		issuer:   issuer,
		resolver: resolver,
	}
}

type RegisterInput struct {
	Email      string  `json:"email"`
	Name       string  `json:"name"`
	Password   string  `json:"password"`
	Profession *string `json:"profession,omitempty"`
	AvatarURL  *string `json:"avatar_url,omitempty"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	User        *domain.User `json:"user"`
	AccessToken string       `json:"access_token"`
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))

	existing, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, classify(err)
	}
	if existing != nil {
		return nil, domain.ErrEmailTaken
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	now := domain.Timestamp(time.Now())
	user := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         strings.TrimSpace(input.Name),
		PasswordHash: hash,
		AvatarURL:    input.AvatarURL,
		Profession:   input.Profession,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, classify(err)
	}

	token, err := s.issuer.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}

	return &AuthResponse{User: user, AccessToken: token}, nil
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResponse, error) {
	user, err := s.userRepo.GetByEmail(ctx, strings.TrimSpace(input.Email))
	if err != nil {
		return nil, classify(err)
	}
	if user == nil {
		return nil, domain.ErrInvalidCredential
	}

	if !verifyPassword(input.Password, user.PasswordHash) {
		return nil, domain.ErrInvalidCredential
	}

	token, err := s.issuer.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}

	return &AuthResponse{User: user, AccessToken: token}, nil
}

// Me returns the full user record behind a credential.
func (s *AuthService) Me(ctx context.Context, credential string) (*domain.User, error) {
	id, err := s.resolver.Verify(ctx, credential)
	if err != nil {
		return nil, classify(err)
	}
	user, err := s.userRepo.GetByID(ctx, id.UserID)
	if err != nil {
		return nil, classify(err)
	}
	if user == nil {
		return nil, domain.ErrInvalidCredential
	}
	return user, nil
}

// HashPassword derives an argon2id hash encoded as "salt:hash".
func HashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)

	return fmt.Sprintf("%s:%s",
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

func verifyPassword(password, encoded string) bool {
	saltB64, hashB64, ok := strings.Cut(encoded, ":")
	if !ok {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(saltB64)
	if err != nil {
		return false
	}

	expectedHash, err := base64.RawStdEncoding.DecodeString(hashB64)
	if err != nil {
		return false
	}

	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
	return subtle.ConstantTimeCompare(hash, expectedHash) == 1
}
