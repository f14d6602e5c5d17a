package couples

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/suPer8Hu/couples-chat/internal/apperr"
	"github.com/suPer8Hu/couples-chat/internal/models"
	"github.com/suPer8Hu/couples-chat/internal/users"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// WithUsers is a couple with both member accounts embedded.
type WithUsers struct {
	models.Couple
	User1 models.User `json:"user1"`
	User2 models.User `json:"user2"`
}

func activeCoupleFor(tx *gorm.DB, userID uint64) (*models.Couple, error) {
	var c models.Couple
	err := tx.Where("is_active = ? AND (user1_id = ? OR user2_id = ?)", true, userID, userID).
		Order("id DESC").
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Service) hasActiveCouple(tx *gorm.DB, userID uint64) (bool, error) {
	_, err := activeCoupleFor(tx, userID)
	if err == nil {
		return true, nil
	}
	if apperr.IsNotFound(err) {
		return false, nil
	}
	return false, apperr.Internal("lookup couple", err)
}

// CreateCouple pairs inviter with the active user owning partnerEmail. The
// couple row and both partner links are written in one transaction.
func (s *Service) CreateCouple(ctx context.Context, inviterID uint64, partnerEmail string, startDate *time.Time) (*models.Couple, error) {
	db := s.db.WithContext(ctx)

	if has, err := s.hasActiveCouple(db, inviterID); err != nil {
		return nil, err
	} else if has {
		return nil, apperr.ErrAlreadyInCouple
	}

	var partner models.User
	email := strings.ToLower(strings.TrimSpace(partnerEmail))
	if err := db.Where("email = ? AND is_active = ?", email, true).First(&partner).Error; err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.ErrPartnerNotFound
		}
		return nil, apperr.Internal("lookup partner", err)
	}
	if partner.ID == inviterID {
		return nil, apperr.ErrSelfCouple
	}
	if has, err := s.hasActiveCouple(db, partner.ID); err != nil {
		return nil, err
	} else if has {
		return nil, apperr.ErrPartnerInCouple
	}

	var out models.Couple
	err := db.Transaction(func(tx *gorm.DB) error {
		// serialize concurrent pairings touching either user
		var locked []models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", []uint64{inviterID, partner.ID}).
			Order("id").
			Find(&locked).Error; err != nil {
			return apperr.Internal("lock users", err)
		}

		if has, err := s.hasActiveCouple(tx, inviterID); err != nil {
			return err
		} else if has {
			return apperr.ErrAlreadyInCouple
		}
		if has, err := s.hasActiveCouple(tx, partner.ID); err != nil {
			return err
		} else if has {
			return apperr.ErrPartnerInCouple
		}

		// the pair is unique; a dissolved couple is revived rather than duplicated
		var prev models.Couple
		err := tx.Where("(user1_id = ? AND user2_id = ?) OR (user1_id = ? AND user2_id = ?)",
			inviterID, partner.ID, partner.ID, inviterID).
			First(&prev).Error
		switch {
		case err == nil:
			if err := tx.Model(&prev).Updates(map[string]any{
				"is_active":               true,
				"relationship_start_date": startDate,
			}).Error; err != nil {
				return apperr.Internal("reactivate couple", err)
			}
			prev.IsActive = true
			prev.RelationshipStartDate = startDate
			out = prev
		case apperr.IsNotFound(err):
			out = models.Couple{
				User1ID:               inviterID,
				User2ID:               partner.ID,
				RelationshipStartDate: startDate,
				IsActive:              true,
			}
			if err := tx.Create(&out).Error; err != nil {
				if apperr.IsDuplicateKey(err) {
					return apperr.ErrAlreadyInCouple
				}
				return apperr.Internal("create couple", err)
			}
		default:
			return apperr.Internal("lookup pair", err)
		}

		return users.LinkTx(tx, inviterID, partner.ID)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) GetCouple(ctx context.Context, id, requesterID uint64) (*models.Couple, error) {
	var c models.Couple
	if err := s.db.WithContext(ctx).Where("id = ? AND is_active = ?", id, true).First(&c).Error; err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.ErrCoupleNotFound
		}
		return nil, apperr.Internal("get couple", err)
	}
	if !c.HasMember(requesterID) {
		return nil, apperr.ErrNotCoupleMember
	}
	return &c, nil
}

func (s *Service) GetMyActiveCouple(ctx context.Context, requesterID uint64) (*models.Couple, error) {
	c, err := activeCoupleFor(s.db.WithContext(ctx), requesterID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.ErrCoupleNotFound
		}
		return nil, apperr.Internal("get couple", err)
	}
	return c, nil
}

// ListMyCouples returns the caller's active couple, if any.
func (s *Service) ListMyCouples(ctx context.Context, requesterID uint64) ([]models.Couple, error) {
	c, err := s.GetMyActiveCouple(ctx, requesterID)
	if errors.Is(err, apperr.ErrCoupleNotFound) {
		return []models.Couple{}, nil
	}
	if err != nil {
		return nil, err
	}
	return []models.Couple{*c}, nil
}

// Deactivate dissolves the couple and unlinks both partners. Rows are never deleted.
func (s *Service) Deactivate(ctx context.Context, id, requesterID uint64) error {
	c, err := s.GetCouple(ctx, id, requesterID)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return users.UnlinkTx(tx, c.User1ID, c.User2ID)
	})
}

func (s *Service) WithUsers(ctx context.Context, c *models.Couple) (*WithUsers, error) {
	var us []models.User
	if err := s.db.WithContext(ctx).Where("id IN ?", []uint64{c.User1ID, c.User2ID}).Find(&us).Error; err != nil {
		return nil, apperr.Internal("load couple members", err)
	}
	out := &WithUsers{Couple: *c}
	for _, u := range us {
		switch u.ID {
		case c.User1ID:
			out.User1 = u
		case c.User2ID:
			out.User2 = u
		}
	}
	return out, nil
}
