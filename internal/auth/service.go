package auth

import (
	"context"
	"strings"
	"time"

	"github.com/suPer8Hu/couples-chat/internal/apperr"
	"github.com/suPer8Hu/couples-chat/internal/models"
	"gorm.io/gorm"
)

type RegisterInput struct {
	Email       string
	Username    string
	FirstName   string
	LastName    string
	Password    string
	PhoneNumber *string
	DateOfBirth *time.Time
	Gender      *string
}

type Session struct {
	User      *models.User
	Token     string
	ExpiresAt time.Time
}

// Service implements account registration and password login on top of the
// token signer.
type Service struct {
	db     *gorm.DB
	signer *Signer
}

func NewService(db *gorm.DB, signer *Signer) *Service {
	return &Service{db: db, signer: signer}
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	username := strings.TrimSpace(in.Username)

	var cnt int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&cnt).Error; err != nil {
		return nil, apperr.Internal("check email", err)
	}
	if cnt > 0 {
		return nil, apperr.ErrEmailTaken
	}
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Count(&cnt).Error; err != nil {
		return nil, apperr.Internal("check username", err)
	}
	if cnt > 0 {
		return nil, apperr.ErrUsernameTaken
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Internal("hash password", err)
	}

	u := &models.User{
		Email:        email,
		Username:     username,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		PasswordHash: hash,
		IsActive:     true,
		PhoneNumber:  in.PhoneNumber,
		DateOfBirth:  in.DateOfBirth,
		Gender:       in.Gender,
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		if apperr.IsDuplicateKey(err) {
			// lost a race with a concurrent registration
			return nil, apperr.AlreadyExists("email or username already in use")
		}
		return nil, apperr.Internal("create user", err)
	}

	return s.issue(u)
}

func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var u models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.ErrInvalidCredential
		}
		return nil, apperr.Internal("lookup user", err)
	}
	if !CheckPassword(u.PasswordHash, password) {
		return nil, apperr.ErrInvalidCredential
	}
	if !u.IsActive {
		return nil, apperr.ErrAccountInactive
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&u).Update("last_login", now).Error; err != nil {
		return nil, apperr.Internal("update last login", err)
	}
	u.LastLogin = &now

	return s.issue(&u)
}

func (s *Service) issue(u *models.User) (*Session, error) {
	token, exp, err := s.signer.Sign(u)
	if err != nil {
		return nil, apperr.Internal("sign token", err)
	}
	return &Session{User: u, Token: token, ExpiresAt: exp}, nil
}
