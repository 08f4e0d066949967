package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims is the identity carried by an access token.
type Claims struct {
	UserID  string `json:"id"`
	IsAdmin bool   `json:"isAdmin"`
}

type TokenMaker struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenMaker(secret string, ttl time.Duration) (*TokenMaker, error) {
	if secret == "" {
		return nil, errors.New("jwt secret not configured")
	}
	return &TokenMaker{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (m *TokenMaker) Issue(userID string, isAdmin bool) (string, error) {
	claims := jwt.MapClaims{
		"id":      userID,
		"isAdmin": isAdmin,
		"iat":     m.now().Unix(),
		"exp":     m.now().Add(m.ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *TokenMaker) Parse(tokenStr string) (Claims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || token == nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	if _, ok := mc["exp"]; !ok {
		return Claims{}, ErrInvalidToken
	}
	id, _ := mc["id"].(string)
	if id == "" {
		return Claims{}, ErrInvalidToken
	}
	admin, _ := mc["isAdmin"].(bool)
	return Claims{UserID: id, IsAdmin: admin}, nil
}
