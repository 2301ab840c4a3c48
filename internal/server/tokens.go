package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"termchat/internal/user"
)

const (
	issuer = "termchat"

	accessKind  = "access"
	refreshKind = "refresh"
)

var ErrTokenKind = errors.New("wrong token kind")

type Claims struct {
	UserID   string `json:"uid"`
	Username string `json:"username"`
	Kind     string `json:"kind"`
	jwt.RegisteredClaims
}

// Issuer signs and checks the access/refresh pairs.
type Issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewIssuer(secret string, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL}
}

func (i *Issuer) Issue(u user.User) (user.AuthResponse, error) {
	access, err := i.sign(u, accessKind, i.accessTTL)
	if err != nil {
		return user.AuthResponse{}, err
	}
	refresh, err := i.sign(u, refreshKind, i.refreshTTL)
	if err != nil {
		return user.AuthResponse{}, err
	}
	return user.AuthResponse{AccessToken: access, RefreshToken: refresh, UserID: u.ID}, nil
}

func (i *Issuer) sign(u user.User, kind string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:   u.ID,
		Username: u.Username,
		Kind:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	ss, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return ss, nil
}

// ValidateToken accepts access tokens only.
func (i *Issuer) ValidateToken(tokenString string) (user.User, error) {
	return i.parse(tokenString, accessKind)
}

func (i *Issuer) ValidateRefresh(tokenString string) (user.User, error) {
	return i.parse(tokenString, refreshKind)
}

func (i *Issuer) parse(tokenString, kind string) (user.User, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return user.User{}, err
	}
	if !token.Valid {
		return user.User{}, jwt.ErrTokenInvalidClaims
	}
	if claims.Kind != kind {
		return user.User{}, ErrTokenKind
	}
	return user.User{ID: claims.UserID, Username: claims.Username}, nil
}
