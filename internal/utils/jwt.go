package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenTTL = 24 * time.Hour

// JWTService отвечает за создание и валидацию JWT токенов
type JWTService struct {
	secretKey string
	nowFn     func() time.Time
}

// NewJWTService создаёт новый экземпляр JWTService
func NewJWTService(secretKey string) *JWTService {
	return &JWTService{secretKey: secretKey, nowFn: time.Now}
}

// GenerateToken создаёт JWT токен пользователя
func (s *JWTService) GenerateToken(userID uuid.UUID) (string, error) {
	now := s.nowFn()
	claims := jwt.MapClaims{
		"user_id": userID.String(),
		"iat":     now.Unix(),
		"exp":     now.Add(tokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secretKey))
}

// ValidateToken проверяет JWT токен
func (s *JWTService) ValidateToken(tokenString string) (*jwt.Token, error) {
	return jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.secretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.nowFn))
}

// ExtractUserID проверяет токен и возвращает идентификатор пользователя
func (s *JWTService) ExtractUserID(tokenString string) (string, error) {
	token, err := s.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("некорректный токен")
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", errors.New("в токене нет user_id")
	}
	return userID, nil
}

// ParseUserID - ExtractUserID с разбором UUID
func (s *JWTService) ParseUserID(tokenString string) (uuid.UUID, error) {
	raw, err := s.ExtractUserID(tokenString)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("некорректный user_id: %w", err)
	}
	return id, nil
}
