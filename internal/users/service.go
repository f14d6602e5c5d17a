package users

import (
	"context"
	"strings"
	"time"

	"github.com/suPer8Hu/couples-chat/internal/apperr"
	"github.com/suPer8Hu/couples-chat/internal/models"
	"gorm.io/gorm"
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Patch carries optional profile changes; nil fields are left untouched.
type Patch struct {
	Email              *string
	Username           *string
	FirstName          *string
	LastName           *string
	PhoneNumber        *string
	DateOfBirth        *time.Time
	Gender             *string
	RelationshipStatus *string
	IsActive           *bool
}

func (s *Service) List(ctx context.Context, skip, limit int) ([]models.User, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	var out []models.User
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").Order("id DESC").
		Offset(skip).Limit(limit).
		Find(&out).Error; err != nil {
		return nil, apperr.Internal("list users", err)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id uint64) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, apperr.Internal("get user", err)
	}
	return &u, nil
}

func (s *Service) findActive(ctx context.Context, column, value string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).
		Where(column+" = ? AND is_active = ?", value, true).
		First(&u).Error; err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, apperr.Internal("find user", err)
	}
	return &u, nil
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findActive(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Service) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.findActive(ctx, "username", strings.TrimSpace(username))
}

func (s *Service) EmailExists(ctx context.Context, email string) (bool, error) {
	var cnt int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		Count(&cnt).Error; err != nil {
		return false, apperr.Internal("check email", err)
	}
	return cnt > 0, nil
}

func ensureSelf(requesterID, targetID uint64) error {
	if requesterID != targetID {
		return apperr.ErrNotSelf
	}
	return nil
}

func (s *Service) getActive(ctx context.Context, id uint64) (*models.User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, apperr.ErrUserInactive
	}
	return u, nil
}

func (s *Service) Update(ctx context.Context, requesterID, id uint64, p Patch) (*models.User, error) {
	if err := ensureSelf(requesterID, id); err != nil {
		return nil, err
	}
	u, err := s.getActive(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if p.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*p.Email))
		if taken, err := s.takenByOther(ctx, "email", email, id); err != nil {
			return nil, err
		} else if taken {
			return nil, apperr.ErrEmailTaken
		}
		updates["email"] = email
	}
	if p.Username != nil {
		username := strings.TrimSpace(*p.Username)
		if taken, err := s.takenByOther(ctx, "username", username, id); err != nil {
			return nil, err
		} else if taken {
			return nil, apperr.ErrUsernameTaken
		}
		updates["username"] = username
	}
	if p.FirstName != nil {
		updates["first_name"] = strings.TrimSpace(*p.FirstName)
	}
	if p.LastName != nil {
		updates["last_name"] = strings.TrimSpace(*p.LastName)
	}
	if p.PhoneNumber != nil {
		updates["phone_number"] = *p.PhoneNumber
	}
	if p.DateOfBirth != nil {
		updates["date_of_birth"] = *p.DateOfBirth
	}
	if p.Gender != nil {
		updates["gender"] = *p.Gender
	}
	if p.RelationshipStatus != nil {
		updates["relationship_status"] = *p.RelationshipStatus
	}
	if p.IsActive != nil {
		updates["is_active"] = *p.IsActive
	}
	if len(updates) == 0 {
		return u, nil
	}

	if err := s.db.WithContext(ctx).Model(u).Updates(updates).Error; err != nil {
		if apperr.IsDuplicateKey(err) {
			return nil, apperr.AlreadyExists("email or username already in use")
		}
		return nil, apperr.Internal("update user", err)
	}
	return s.Get(ctx, id)
}

func (s *Service) takenByOther(ctx context.Context, column, value string, id uint64) (bool, error) {
	var cnt int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where(column+" = ? AND id <> ?", value, id).
		Count(&cnt).Error; err != nil {
		return false, apperr.Internal("check "+column, err)
	}
	return cnt > 0, nil
}

// Deactivate soft-deletes the account.
func (s *Service) Deactivate(ctx context.Context, requesterID, id uint64) error {
	if err := ensureSelf(requesterID, id); err != nil {
		return err
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Update("is_active", false).Error; err != nil {
		return apperr.Internal("deactivate user", err)
	}
	return nil
}

// LinkPartner links id and partnerID symmetrically. Each side is written only if
// it is unlinked or already points at the other, so two racing links cannot
// leave one user half-paired.
func (s *Service) LinkPartner(ctx context.Context, requesterID, id, partnerID uint64) (*models.User, *models.User, error) {
	if err := ensureSelf(requesterID, id); err != nil {
		return nil, nil, err
	}
	if id == partnerID {
		return nil, nil, apperr.ErrSelfPartner
	}
	if _, err := s.getActive(ctx, id); err != nil {
		return nil, nil, err
	}
	if _, err := s.getActive(ctx, partnerID); err != nil {
		return nil, nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return LinkTx(tx, id, partnerID)
	})
	if err != nil {
		return nil, nil, err
	}

	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.Get(ctx, partnerID)
	if err != nil {
		return nil, nil, err
	}
	return u, p, nil
}

// LinkTx sets partner_id on both users inside tx.
func LinkTx(tx *gorm.DB, a, b uint64) error {
	for _, pair := range [][2]uint64{{a, b}, {b, a}} {
		res := tx.Model(&models.User{}).
			Where("id = ? AND (partner_id IS NULL OR partner_id = ?)", pair[0], pair[1]).
			Updates(map[string]any{
				"partner_id":          pair[1],
				"relationship_status": models.RelationshipInRelationship,
			})
		if res.Error != nil {
			return apperr.Internal("link partner", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.ErrPartnerLinked
		}
	}
	return nil
}

// UnlinkTx clears partner_id on both users and deactivates any active couple
// between them.
func UnlinkTx(tx *gorm.DB, a, b uint64) error {
	if err := tx.Model(&models.User{}).
		Where("(id = ? AND partner_id = ?) OR (id = ? AND partner_id = ?)", a, b, b, a).
		Updates(map[string]any{
			"partner_id":          nil,
			"relationship_status": models.RelationshipSingle,
		}).Error; err != nil {
		return apperr.Internal("unlink partner", err)
	}
	if err := tx.Model(&models.Couple{}).
		Where("is_active = ? AND ((user1_id = ? AND user2_id = ?) OR (user1_id = ? AND user2_id = ?))", true, a, b, b, a).
		Update("is_active", false).Error; err != nil {
		return apperr.Internal("deactivate couple", err)
	}
	return nil
}

func (s *Service) UnlinkPartner(ctx context.Context, requesterID, id uint64) (*models.User, error) {
	if err := ensureSelf(requesterID, id); err != nil {
		return nil, err
	}
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.PartnerID == nil {
		return nil, apperr.ErrNoPartner
	}
	partnerID := *u.PartnerID

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := UnlinkTx(tx, id, partnerID); err != nil {
			return err
		}
		// a dangling partner_id (partner row gone or pointing elsewhere) is still cleared
		return tx.Model(&models.User{}).Where("id = ?", id).
			Updates(map[string]any{
				"partner_id":          nil,
				"relationship_status": models.RelationshipSingle,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}
