package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"attendance/internal/timetable"
)

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	AccessExp    time.Time `json:"access_expires_at"`
	RefreshExp   time.Time `json:"refresh_expires_at"`
}

const (
	tokenAccess  = "access"
	tokenRefresh = "refresh"
)

// Claims represents JWT payload.
type Claims struct {
	Subject    string              `json:"sub"`
	Role       string              `json:"role"`
	Name       string              `json:"name,omitempty"`
	Class      *timetable.ClassKey `json:"class,omitempty"`
	RollNo     string              `json:"roll_no,omitempty"`
	Department string              `json:"department,omitempty"`
	TokenType  string              `json:"typ"`
	jwt.RegisteredClaims
}

// Principal returns the caller the claims were issued to.
func (c Claims) Principal() (Principal, error) { return principalOf(c) }

// Issue issues signed access and refresh tokens for p.
func Issue(p Principal, issuer, key string, accessTTL, refreshTTL time.Duration) (TokenPair, error) {
	now := time.Now()
	accessExp := now.Add(accessTTL)
	refreshExp := now.Add(refreshTTL)

	accessToken, err := sign(claimsFor(p, issuer, tokenAccess, now, accessExp), key)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, err := sign(claimsFor(p, issuer, tokenRefresh, now, refreshExp), key)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

// Refresh validates a refresh token and issues a new pair for the same principal.
func Refresh(refreshToken, issuer, key string, accessTTL, refreshTTL time.Duration) (TokenPair, error) {
	claims, err := Parse(refreshToken, key, issuer)
	if err != nil {
		return TokenPair{}, err
	}
	if claims.TokenType != tokenRefresh {
		return TokenPair{}, errors.New("not a refresh token")
	}
	p, err := claims.Principal()
	if err != nil {
		return TokenPair{}, err
	}
	return Issue(p, issuer, key, accessTTL, refreshTTL)
}

func claimsFor(p Principal, issuer, typ string, now, exp time.Time) Claims {
	c := Claims{
		Subject:   p.Subject(),
		Role:      string(p.Role()),
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   p.Subject(),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	switch v := p.(type) {
	case Student:
		class := v.Class.Normalize()
		c.Name, c.Class, c.RollNo = v.Name, &class, v.RollNo
	case Teacher:
		c.Name, c.Department = v.Name, v.Department
	case Admin:
		c.Name = v.Name
	}
	return c
}

func sign(c Claims, key string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(key))
}

// Authenticate parses an access token into its principal. Refresh tokens are rejected.
func Authenticate(tokenStr, key, issuer string) (Principal, error) {
	claims, err := Parse(tokenStr, key, issuer)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenAccess {
		return nil, errors.New("not an access token")
	}
	return claims.Principal()
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	return *claims, nil
}
