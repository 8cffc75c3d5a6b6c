package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var errAdminTokenInvalid = errors.New("admin token is invalid")

// AdminAuthorizer validates operator credentials supplied with join-admin.
type AdminAuthorizer interface {
	VerifyAdmin(token string) (AdminIdentity, error)
}

// AdminIdentity is the verified operator behind a console connection.
type AdminIdentity struct {
	UserID string
	Name   string
}

type adminClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
}

// jwtAuthorizer verifies HS256 console tokens minted by the site backend.
type jwtAuthorizer struct {
	secret []byte
}

func newJWTAuthorizer(secret string) AdminAuthorizer {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	return &jwtAuthorizer{secret: []byte(secret)}
}

func (a *jwtAuthorizer) VerifyAdmin(token string) (AdminIdentity, error) {
	if a == nil || len(a.secret) == 0 {
		return AdminIdentity{}, errors.New("admin auth is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return AdminIdentity{}, errAdminTokenInvalid
	}

	var claims adminClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return AdminIdentity{}, fmt.Errorf("parse admin token: %w", err)
	}
	if !parsed.Valid {
		return AdminIdentity{}, errAdminTokenInvalid
	}

	userID := strings.TrimSpace(claims.Subject)
	if userID == "" {
		return AdminIdentity{}, errAdminTokenInvalid
	}
	return AdminIdentity{UserID: userID, Name: strings.TrimSpace(claims.Name)}, nil
}

// MintAdminToken signs a console token for the given operator. The site
// backend calls this when an operator opens the console; tests use it to
// produce valid credentials.
func MintAdminToken(secret string, userID string, name string) (string, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", errors.New("admin secret is required")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("user id is required")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, adminClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
		Name:             strings.TrimSpace(name),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}
	return signed, nil
}
