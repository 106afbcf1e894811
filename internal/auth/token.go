package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rohits-web03/memoscribe/internal/apperr"
)

// Claims carries the verified identity of a caller.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Identity is what the rest of the service sees of an authenticated caller.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

// IssueToken signs an HS256 token for the user.
func (t *TokenIssuer) IssueToken(userID, email string) (string, error) {
	now := t.now()
	claims := &Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", apperr.Internal(err)
	}
	return signed, nil
}

// VerifyToken checks signature, algorithm and expiry and returns the identity.
func (t *TokenIssuer) VerifyToken(tokenStr string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, apperr.Unauthorized("Token expired")
		}
		return Identity{}, apperr.Unauthorized("Invalid token")
	}
	if !token.Valid || claims.UserID == "" {
		return Identity{}, apperr.Unauthorized("Invalid token")
	}
	return Identity{UserID: claims.UserID, Email: claims.Email}, nil
}
