// Package auth issues and verifies wallet sessions. A session is an HS256
// JWT minted after the wallet proves key ownership with a personal-sign
// signature over a client-chosen message.
package auth

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/voidwallet/voidd/internal/errors"
	"github.com/voidwallet/voidd/internal/ethutil"
	"github.com/voidwallet/voidd/pkg/logger"
)

// Claims is the JWT payload. Wallet is the checksummed address.
type Claims struct {
	Wallet string `json:"wallet"`
	jwt.RegisteredClaims
}

// Session is the result of a successful login.
type Session struct {
	Token  string `json:"token"`
	Wallet string `json:"wallet"`
}

type Service struct {
	secret []byte
	expiry time.Duration
	log    *logger.Logger
}

func New(jwtSecret string, expiry time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	if expiry <= 0 {
		expiry = 7 * 24 * time.Hour
	}
	return &Service{secret: []byte(jwtSecret), expiry: expiry, log: log}
}

// GenerateMessage returns a fresh login message for the client to sign.
// The timestamp is informational; the server accepts any non-empty message
// since possession of the key is what login proves.
func (s *Service) GenerateMessage() string {
	return fmt.Sprintf("Login Void Wallet Timestamp:%d", time.Now().UnixMilli())
}

// Login checks that signatureHex recovers to address over message and mints
// a session token. There is no server-side nonce: the message is chosen by
// the client and the token is what gates subsequent requests.
func (s *Service) Login(address, message, signatureHex string) (Session, error) {
	if !common.IsHexAddress(address) {
		return Session{}, apperrors.Validation("invalid wallet address")
	}
	if message == "" {
		return Session{}, apperrors.Validation("message is required")
	}

	ok, err := ethutil.VerifyPersonalSignature(address, []byte(message), signatureHex)
	if err != nil {
		return Session{}, apperrors.Validation(err.Error())
	}
	if !ok {
		s.log.WithField("address", address).Warn("login signature rejected")
		return Session{}, apperrors.SignatureMismatch("signature does not recover to address")
	}

	wallet := common.HexToAddress(address).Hex()
	now := time.Now()
	claims := Claims{
		Wallet: wallet,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Session{}, apperrors.Internal("sign session token", err)
	}

	s.log.WithField("wallet", wallet).Info("session issued")
	return Session{Token: token, Wallet: wallet}, nil
}

// Verify parses a bearer token and returns the wallet it was issued to.
func (s *Service) Verify(token string) (string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", apperrors.InvalidToken(err)
	}
	if !common.IsHexAddress(claims.Wallet) {
		return "", apperrors.InvalidToken(nil)
	}
	return common.HexToAddress(claims.Wallet).Hex(), nil
}
