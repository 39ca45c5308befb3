// Package identity turns an opaque bearer credential into a user identity.
package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/848838/ChatApp/internal/domain"
	"github.com/848838/ChatApp/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Identity is the verified caller, with the display fields current at verification.
type Identity struct {
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
}

func FromUser(u *domain.User) *Identity {
	return &Identity{UserID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL}
}

//go:generate go run go.uber.org/mock/mockgen -destination=../mocks/mock_resolver.go -package=mocks github.com/848838/ChatApp/internal/identity Resolver

// Resolver verifies a credential. Failures wrap domain.ErrAuth.
type Resolver interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
}

// JWTResolver accepts HS256 tokens whose subject is a user id and checks the
// user still exists.
type JWTResolver struct {
	secret []byte
	users  repository.UserRepository
}

var _ Resolver = (*JWTResolver)(nil)

func NewJWTResolver(secret string, users repository.UserRepository) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), users: users}
}

func (r *JWTResolver) Verify(ctx context.Context, credential string) (*Identity, error) {
	token := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(credential), "Bearer "))
	if token == "" {
		return nil, domain.ErrMissingCredential
	}

	userID, err := ParseToken(token, r.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCredential, err)
	}

	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrInvalidCredential
	}
	return FromUser(user), nil
}

// ParseToken validates the signature and expiry and returns the subject.
func ParseToken(tokenStr string, secret []byte) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return uuid.Nil, err
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(sub)
}

// Issuer signs access tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (i *Issuer) Issue(userID uuid.UUID) (string, error) {
	now := i.now()
	claims := jwt.MapClaims{
		"sub": userID.String(),
		"exp": now.Add(i.ttl).Unix(),
		"iat": now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}
