package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"distmaster/pkg/store"
)

const (
	challengeTTL = 5 * time.Minute
	sessionTTL   = 24 * time.Hour

	// SessionTTLMillis is the token validity reported to nodes, in the
	// challenge format's unit.
	SessionTTLMillis int64 = 86400000
)

// clusterClaims is the payload of both challenges and session tokens.
type clusterClaims struct {
	ClusterID     string `json:"cluster_id"`
	ClusterSecret string `json:"cluster_secret"`
	jwt.RegisteredClaims
}

// Identity is the result of decoding a session token at connect time.
type Identity struct {
	ClusterID string
	Secret    string
}

// Service issues signed challenges and session tokens for cluster nodes.
// Challenges prove possession of the shared secret without ever putting the
// secret on the wire: the node returns HMAC-SHA256(challenge, secret) and the
// master re-derives it from the directory record.
type Service struct {
	store store.Store
	key   []byte
	now   func() time.Time
}

func NewService(st store.Store, signingKey []byte) *Service {
	return &Service{store: st, key: signingKey, now: time.Now}
}

// IssueChallenge looks up the cluster and returns a short-lived signed
// challenge for it. Fails with ErrNotFound or *BannedError.
func (s *Service) IssueChallenge(ctx context.Context, clusterID string) (string, error) {
	c, ok, err := s.store.GetCluster(ctx, clusterID)
	if err != nil {
		return "", fmt.Errorf("directory lookup: %w", err)
	}
	if !ok {
		return "", ErrNotFound
	}
	if c.Banned {
		return "", &BannedError{Reason: c.BanReason}
	}
	return s.sign(c.ID, c.Secret, challengeTTL)
}

// VerifyChallengeResponse checks that signature is the hex HMAC-SHA256 of the
// challenge keyed by the cluster's secret, and that the challenge is still
// valid and belongs to clusterID. On success it issues a session token and
// its TTL in milliseconds. Every failure is ErrUnauthorized.
func (s *Service) VerifyChallengeResponse(ctx context.Context, clusterID, challenge, signature string) (string, int64, error) {
	claims, err := s.parse(challenge)
	if err != nil || claims.ClusterID != clusterID {
		return "", 0, ErrUnauthorized
	}
	c, ok, err := s.store.GetCluster(ctx, clusterID)
	if err != nil || !ok || c.Banned {
		return "", 0, ErrUnauthorized
	}
	want := SignHex(challenge, c.Secret)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return "", 0, ErrUnauthorized
	}
	token, err := s.sign(c.ID, c.Secret, sessionTTL)
	if err != nil {
		return "", 0, ErrUnauthorized
	}
	return token, SessionTTLMillis, nil
}

// VerifySessionToken decodes a session token presented at transport connect.
// It validates structure, signature and expiry only; comparing the embedded
// secret against the directory is the caller's job.
func (s *Service) VerifySessionToken(token string) (Identity, error) {
	claims, err := s.parse(token)
	if err != nil {
		return Identity{}, ErrUnauthorized
	}
	return Identity{ClusterID: claims.ClusterID, Secret: claims.ClusterSecret}, nil
}

func (s *Service) sign(clusterID, secret string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := clusterClaims{
		ClusterID:     clusterID,
		ClusterSecret: secret,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}

func (s *Service) parse(tokenStr string) (*clusterClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &clusterClaims{}, func(_ *jwt.Token) (interface{}, error) {
		return s.key, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil || !token.Valid {
		return nil, ErrUnauthorized
	}
	if claims, ok := token.Claims.(*clusterClaims); ok {
		return claims, nil
	}
	return nil, ErrUnauthorized
}

// SignHex returns the hex-encoded HMAC-SHA256 of message keyed by key. Used
// for challenge responses and download redirect signatures.
func SignHex(message, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
