package jwtutil

import (
	"time"

	"github.com/google/uuid"
	jwt "github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	UserID   uint   `json:"uid,omitempty"`
	Username string `json:"uname,omitempty"`
	Role     string `json:"role,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
	jwt.RegisteredClaims
}

type Signer struct {
	Secret []byte
	Issuer string
	ExpMin int
}

func (s *Signer) TTL() time.Duration { return time.Duration(s.ExpMin) * time.Minute }

func (s *Signer) sign(claims Claims) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    s.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.TTL())),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.Secret)
}

// Sign issues an operator token. The returned id keys the session store.
func (s *Signer) Sign(userID uint, username, role string) (token string, id string, err error) {
	c := Claims{UserID: userID, Username: username, Role: role}
	token, err = s.sign(c)
	if err != nil {
		return "", "", err
	}
	parsed, err := s.Parse(token)
	if err != nil {
		return "", "", err
	}
	return token, parsed.ID, nil
}

// SignDevice issues a token a device presents on its live channel.
func (s *Signer) SignDevice(deviceID string) (string, error) {
	return s.sign(Claims{DeviceID: deviceID, Role: "device"})
}

func (s *Signer) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) { return s.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}
