package token

import (
	"context"
	"errors"
	"time"

	errprocess "realtime_chat_service/pkg/err"

	"github.com/golang-jwt/jwt/v5"
)

// RoleType set member role
type RoleType string

const (
	// RoleAdmin is the admin role
	RoleAdmin RoleType = "admin"
	// RoleMember is the member role
	RoleMember RoleType = "member"
)

// Claims structure for custom claims in JWT
type Claims struct {
	MemberID string `json:"user_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

var tokenExpiration = 60 * time.Minute

// Verifier resolve a bearer credential into a user id
type Verifier interface {
	Verify(ctx context.Context, credential string) (string, error)
}

// JWTVerifier HS256 Verifier
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier create JWTVerifier; an empty issuer accepts any issuer
func NewJWTVerifier(secret []byte, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: secret, issuer: issuer}
}

// Verify return the user id carried by credential or an Unauthorized error
func (v *JWTVerifier) Verify(_ context.Context, credential string) (string, error) {
	if credential == "" {
		return "", errprocess.New(errprocess.Unauthorized, "missing credential")
	}
	claims, err := ParseJWT(credential, v.secret)
	if err != nil {
		return "", errprocess.New(errprocess.Unauthorized, err.Error())
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return "", errprocess.New(errprocess.Unauthorized, "unexpected issuer")
	}
	if claims.MemberID == "" {
		return "", errprocess.New(errprocess.Unauthorized, "token carries no user")
	}
	return claims.MemberID, nil
}

// Issue sign a token for memberID, used by tests and local tooling
func (v *JWTVerifier) Issue(memberID, role string) (string, error) {
	return GenerateJWT(memberID, role, v.issuer, v.secret)
}

// GenerateJWT generates a JWT token
func GenerateJWT(memberID, role, issuer string, secret []byte) (string, error) {
	claims := Claims{
		MemberID: memberID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenExpiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseJWT parses a JWT and extracts the Claims
func ParseJWT(tokenStr string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}
