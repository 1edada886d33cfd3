package book

import (
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-books/internal/config"
	"github.com/rajivgeraev/flippy-books/internal/middleware"
)

// CoverUploads подписывает прямую загрузку обложки в Cloudinary
type CoverUploads struct {
	cfg   config.CloudinaryConfig
	nowFn func() time.Time
}

// NewCoverUploads создает подписчика загрузок
func NewCoverUploads(cfg config.CloudinaryConfig) *CoverUploads {
	return &CoverUploads{cfg: cfg, nowFn: time.Now}
}

// UploadParams - параметры, которые клиент передаёт в Cloudinary
type UploadParams struct {
	Timestamp string `json:"timestamp"`
	Signature string `json:"signature"`
	APIKey    string `json:"api_key"`
	CloudName string `json:"cloud_name"`
	Folder    string `json:"folder"`
	PublicID  string `json:"public_id"`
}

// Sign создаёт параметры загрузки обложки пользователя
func (u *CoverUploads) Sign(userID uuid.UUID) (UploadParams, error) {
	params := UploadParams{
		Timestamp: strconv.FormatInt(u.nowFn().Unix(), 10),
		APIKey:    u.cfg.APIKey,
		CloudName: u.cfg.CloudName,
		Folder:    u.cfg.UploadFolder,
		PublicID:  userID.String() + "/" + uuid.NewString(),
	}

	values := url.Values{}
	values.Set("timestamp", params.Timestamp)
	values.Set("folder", params.Folder)
	values.Set("public_id", params.PublicID)
	signature, err := api.SignParameters(values, u.cfg.APISecret)
	if err != nil {
		return UploadParams{}, fmt.Errorf("ошибка подписи параметров Cloudinary: %w", err)
	}
	params.Signature = signature
	return params, nil
}

// Owns проверяет, что адрес обложки указывает на наш Cloudinary
func (u *CoverUploads) Owns(imageURL string) bool {
	parsed, err := url.Parse(imageURL)
	if err != nil || parsed.Scheme != "https" || parsed.Host != "res.cloudinary.com" {
		return false
	}
	return strings.HasPrefix(parsed.Path, "/"+u.cfg.CloudName+"/")
}

// GetUploadParams возвращает подписанные параметры загрузки обложки
func (s *BookService) GetUploadParams(c fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}
	if s.covers == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Загрузка обложек не настроена"})
	}

	params, err := s.covers.Sign(userID)
	if err != nil {
		log.Printf("%v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка при подготовке загрузки"})
	}
	return c.JSON(params)
}
