package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"classlog/internal/session"
)

// Token kinds.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	AccessExp    time.Time `json:"access_expires_at"`
	RefreshExp   time.Time `json:"refresh_expires_at"`
}

// Claims represents JWT payload.
type Claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	Method  string `json:"method"`
	Name    string `json:"name,omitempty"`
	Kind    string `json:"kind"`
	jwt.RegisteredClaims
}

// Session rebuilds the session the token was issued for.
func (c Claims) Session() session.Session {
	return session.Session{
		ID:      c.ID,
		Subject: c.Subject,
		Role:    session.Role(c.Role),
		Method:  session.Method(c.Method),
		Name:    c.Name,
	}
}

// Issue issues signed access and refresh tokens for s. Both carry s.ID as their jti so a
// sign-out revokes the pair together.
func Issue(s session.Session, issuer, key string, accessTTL, refreshTTL time.Duration) (TokenPair, error) {
	now := time.Now()
	accessExp := now.Add(accessTTL)
	refreshExp := now.Add(refreshTTL)

	claims := func(kind string, exp time.Time) Claims {
		return Claims{
			Subject: s.Subject,
			Role:    string(s.Role),
			Method:  string(s.Method),
			Name:    s.Name,
			Kind:    kind,
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        s.ID,
				Issuer:    issuer,
				Subject:   s.Subject,
				ExpiresAt: jwt.NewNumericDate(exp),
				IssuedAt:  jwt.NewNumericDate(now),
			},
		}
	}

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims(KindAccess, accessExp)).SignedString([]byte(key))
	if err != nil {
		return TokenPair{}, err
	}

	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims(KindRefresh, refreshExp)).SignedString([]byte(key))
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
	if claims.ID == "" {
		return Claims{}, errors.New("missing session id")
	}
	if _, err := session.ParseRole(claims.Role); err != nil {
		return Claims{}, err
	}
	return *claims, nil
}
