package service

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/infra"
	"golang.org/x/crypto/bcrypt"
)

// Права оператора консоли: чтение отчетов, проверка леджера, отмена прогонов
var operatorScopes = map[string]bool{
	"reports.read":   true,
	"ledger.verify":  true,
	"pipeline.abort": true,
}

type AuthService struct {
	cfg        infra.AuthConfig
	privateKey *rsa.PrivateKey
}

func NewAuthService(cfg infra.AuthConfig, privateKey *rsa.PrivateKey) *AuthService {
	return &AuthService{cfg: cfg, privateKey: privateKey}
}

func (s *AuthService) GenerateToken(ctx context.Context, username, password string) (*domain.TokenResponse, error) {
	// 1. Аутентификация: учетка оператора задается конфигом, не БД
	if username == "" || username != s.cfg.OperatorUsername {
		return nil, errors.New("invalid credentials")
	}

	// 2. Проверка пароля (используем bcrypt)
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.OperatorPasswordHash), []byte(password)); err != nil {
		return nil, errors.New("invalid credentials")
	}

	ttl := s.cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	// 3. Формирование Claims
	expiresAt := time.Now().Add(ttl)
	claims := &domain.CustomClaims{
		UserID: username,
		Scopes: operatorScopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "evidence-console",
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	// 4. Подпись токена ЗАКРЫТЫМ КЛЮЧОМ (RS256)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: signedToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(expiresAt).Seconds()),
	}, nil
}
