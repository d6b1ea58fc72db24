package auth

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalid = errors.New("invalid token")

// AdminClaims authenticates management API users, not cluster nodes.
type AdminClaims struct {
	UserID   uint   `json:"uid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func adminSecret() []byte {
	s := os.Getenv("JWT_SECRET")
	if s == "" {
		s = "change-me-secret"
	}
	return []byte(s)
}

func GenerateAdmin(userID uint, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(adminSecret())
}

func ParseAdmin(tokenStr string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &AdminClaims{}, func(_ *jwt.Token) (interface{}, error) {
		return adminSecret(), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalid
	}
	if claims, ok := token.Claims.(*AdminClaims); ok {
		return claims, nil
	}
	return nil, ErrInvalid
}
