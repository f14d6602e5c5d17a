package sessions

import (
	"context"
	"errors"
	"fmt"

	"github.com/suPer8Hu/couples-chat/internal/apperr"
	"github.com/suPer8Hu/couples-chat/internal/logger"
	"github.com/suPer8Hu/couples-chat/internal/metrics"
	"github.com/suPer8Hu/couples-chat/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrSessionClosed = apperr.FailedPrecondition("session is no longer active")

// CoupleLookup resolves the caller's active couple for couple-mode sessions.
type CoupleLookup interface {
	GetMyActiveCouple(ctx context.Context, userID uint64) (*models.Couple, error)
}

// CodeFunc generates join codes; replaceable in tests.
type CodeFunc func() (string, error)

type Service struct {
	db          *gorm.DB
	couples     CoupleLookup
	newCode     CodeFunc
	codeRetries int
}

func NewService(db *gorm.DB, couples CoupleLookup) *Service {
	return &Service{db: db, couples: couples, newCode: NewCode, codeRetries: 10}
}

// WithCodeFunc swaps the code generator.
func (s *Service) WithCodeFunc(f CodeFunc) *Service {
	s.newCode = f
	return s
}

func activeParticipation(tx *gorm.DB, userID uint64) (*Participant, error) {
	var p Participant
	err := tx.Where("user_id = ? AND is_active = ?", userID, true).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func ensureNoActiveSession(tx *gorm.DB, userID uint64) error {
	_, err := activeParticipation(tx, userID)
	if err == nil {
		return apperr.ErrAlreadyInSession
	}
	if apperr.IsNotFound(err) {
		return nil
	}
	return apperr.Internal("lookup participation", err)
}

// lockUser takes a row lock on the user so that create/join for one user are
// serialized. sqlite has no row locks and serializes writers on its own.
func lockUser(tx *gorm.DB, userID uint64) error {
	var u models.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&u, userID).Error
	if err != nil && !apperr.IsNotFound(err) {
		return apperr.Internal("lock user", err)
	}
	return nil
}

func (s *Service) uniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < s.codeRetries; i++ {
		code, err := s.newCode()
		if err != nil {
			return "", apperr.Internal("generate session code", err)
		}
		var cnt int64
		if err := s.db.WithContext(ctx).Model(&Session{}).Where("session_code = ?", code).Count(&cnt).Error; err != nil {
			return "", apperr.Internal("check session code", err)
		}
		if cnt == 0 {
			return code, nil
		}
	}
	return "", apperr.Internal("allocate session code", fmt.Errorf("no free code after %d attempts", s.codeRetries))
}

// CreateSession opens a session with the creator as its first participant.
func (s *Service) CreateSession(ctx context.Context, creatorID uint64, mode string) (*WithParticipants, error) {
	switch mode {
	case "":
		mode = ModeCouple
	case ModeSolo, ModeCouple:
	default:
		return nil, apperr.ErrInvalidMode
	}

	if err := ensureNoActiveSession(s.db.WithContext(ctx), creatorID); err != nil {
		metrics.SessionEvents.WithLabelValues("create", "rejected").Inc()
		return nil, err
	}

	var coupleID *uint64
	if mode == ModeCouple && s.couples != nil {
		c, err := s.couples.GetMyActiveCouple(ctx, creatorID)
		switch {
		case err == nil:
			coupleID = &c.ID
		case errors.Is(err, apperr.ErrCoupleNotFound):
		default:
			return nil, err
		}
	}

	for attempt := 0; attempt < s.codeRetries; attempt++ {
		code, err := s.uniqueCode(ctx)
		if err != nil {
			return nil, err
		}

		sess := &Session{
			SessionCode:         code,
			CreatorUserID:       creatorID,
			SessionMode:         mode,
			CoupleID:            coupleID,
			CurrentParticipants: 1,
			MaxParticipants:     DefaultMaxParticipants,
			Status:              StatusActive,
		}
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := lockUser(tx, creatorID); err != nil {
				return err
			}
			if err := ensureNoActiveSession(tx, creatorID); err != nil {
				return err
			}
			if err := tx.Create(sess).Error; err != nil {
				return err
			}
			return tx.Create(&Participant{
				SessionID: sess.ID,
				UserID:    creatorID,
				Role:      RoleCreator,
				IsActive:  true,
			}).Error
		})
		if err == nil {
			metrics.SessionEvents.WithLabelValues("create", "ok").Inc()
			logger.FromContext(ctx).Info("session created",
				zap.Uint64("session_id", sess.ID), zap.Uint64("creator_id", creatorID), zap.String("mode", mode))
			return s.withRoster(ctx, sess)
		}

		var ae *apperr.AppError
		if errors.As(err, &ae) {
			metrics.SessionEvents.WithLabelValues("create", "rejected").Inc()
			return nil, err
		}
		if !apperr.IsDuplicateKey(err) {
			return nil, apperr.Internal("create session", err)
		}
		// the code was taken between the check and the insert
		logger.FromContext(ctx).Warn("session code collision, retrying", zap.String("code", code))
	}
	return nil, apperr.Internal("create session", errors.New("session code collisions exhausted retries"))
}

// JoinSession adds userID to the session addressed by code. The capacity check
// and the participant-count increment are a single conditional UPDATE, so
// concurrent joins can never push current_participants past max_participants.
func (s *Service) JoinSession(ctx context.Context, userID uint64, code string) (*WithParticipants, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, apperr.InvalidArg("session_code required")
	}

	var sess Session
	if err := s.db.WithContext(ctx).Where("session_code = ?", code).First(&sess).Error; err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.ErrSessionNotFound
		}
		return nil, apperr.Internal("lookup session", err)
	}
	if sess.Status != StatusActive {
		return nil, ErrSessionClosed
	}
	if err := ensureNoActiveSession(s.db.WithContext(ctx), userID); err != nil {
		metrics.SessionEvents.WithLabelValues("join", "rejected").Inc()
		return nil, err
	}
	if sess.CurrentParticipants >= sess.MaxParticipants {
		metrics.SessionEvents.WithLabelValues("join", "full").Inc()
		return nil, apperr.ErrSessionFull
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUser(tx, userID); err != nil {
			return err
		}
		if err := ensureNoActiveSession(tx, userID); err != nil {
			return err
		}

		res := tx.Model(&Session{}).
			Where("id = ? AND status = ? AND current_participants < max_participants", sess.ID, StatusActive).
			Update("current_participants", gorm.Expr("current_participants + ?", 1))
		if res.Error != nil {
			return apperr.Internal("reserve seat", res.Error)
		}
		if res.RowsAffected == 0 {
			var cur Session
			if err := tx.First(&cur, sess.ID).Error; err == nil && cur.Status != StatusActive {
				return ErrSessionClosed
			}
			return apperr.ErrSessionFull
		}

		// a user who left may rejoin; the (session, user) pair stays unique
		var prev Participant
		err := tx.Where("session_id = ? AND user_id = ?", sess.ID, userID).First(&prev).Error
		switch {
		case err == nil:
			if err := tx.Model(&prev).Update("is_active", true).Error; err != nil {
				return apperr.Internal("rejoin session", err)
			}
			return nil
		case apperr.IsNotFound(err):
		default:
			return apperr.Internal("lookup participant", err)
		}

		if err := tx.Create(&Participant{
			SessionID: sess.ID,
			UserID:    userID,
			Role:      RoleParticipant,
			IsActive:  true,
		}).Error; err != nil {
			if apperr.IsDuplicateKey(err) {
				return apperr.ErrAlreadyInSession
			}
			return apperr.Internal("add participant", err)
		}
		return nil
	})
	if err != nil {
		outcome := "rejected"
		if errors.Is(err, apperr.ErrSessionFull) {
			outcome = "full"
		}
		metrics.SessionEvents.WithLabelValues("join", outcome).Inc()
		return nil, err
	}

	metrics.SessionEvents.WithLabelValues("join", "ok").Inc()
	logger.FromContext(ctx).Info("session joined", zap.Uint64("session_id", sess.ID), zap.Uint64("user_id", userID))

	var fresh Session
	if err := s.db.WithContext(ctx).First(&fresh, sess.ID).Error; err != nil {
		return nil, apperr.Internal("reload session", err)
	}
	return s.withRoster(ctx, &fresh)
}

// GetMySession returns the caller's active session and roster.
func (s *Service) GetMySession(ctx context.Context, userID uint64) (*WithParticipants, error) {
	p, err := activeParticipation(s.db.WithContext(ctx), userID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.ErrSessionNotFound
		}
		return nil, apperr.Internal("lookup participation", err)
	}
	var sess Session
	if err := s.db.WithContext(ctx).First(&sess, p.SessionID).Error; err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.ErrSessionNotFound
		}
		return nil, apperr.Internal("get session", err)
	}
	return s.withRoster(ctx, &sess)
}

// LeaveSession deactivates the caller's seat. The last one out completes the session.
func (s *Service) LeaveSession(ctx context.Context, userID uint64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUser(tx, userID); err != nil {
			return err
		}
		p, err := activeParticipation(tx, userID)
		if err != nil {
			if apperr.IsNotFound(err) {
				return apperr.ErrSessionNotFound
			}
			return apperr.Internal("lookup participation", err)
		}
		if err := tx.Model(p).Update("is_active", false).Error; err != nil {
			return apperr.Internal("leave session", err)
		}
		if err := tx.Model(&Session{}).
			Where("id = ? AND current_participants > 0", p.SessionID).
			Update("current_participants", gorm.Expr("current_participants - ?", 1)).Error; err != nil {
			return apperr.Internal("release seat", err)
		}

		var remaining int64
		if err := tx.Model(&Participant{}).
			Where("session_id = ? AND is_active = ?", p.SessionID, true).
			Count(&remaining).Error; err != nil {
			return apperr.Internal("count participants", err)
		}
		if remaining == 0 {
			if err := tx.Model(&Session{}).Where("id = ?", p.SessionID).
				Update("status", StatusCompleted).Error; err != nil {
				return apperr.Internal("complete session", err)
			}
		}
		return nil
	})
	metrics.SessionEvents.WithLabelValues("leave", metrics.Outcome(err)).Inc()
	return err
}

// CompleteSession ends the caller's active session. Only its creator may do this.
func (s *Service) CompleteSession(ctx context.Context, userID uint64) error {
	cur, err := s.GetMySession(ctx, userID)
	if err != nil {
		return err
	}
	if cur.CreatorUserID != userID {
		return apperr.ErrNotSessionCreator
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Session{}).
			Where("id = ? AND status = ?", cur.ID, StatusActive).
			Update("status", StatusCompleted)
		if res.Error != nil {
			return apperr.Internal("complete session", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrSessionClosed
		}
		if err := tx.Model(&Participant{}).
			Where("session_id = ?", cur.ID).
			Update("is_active", false).Error; err != nil {
			return apperr.Internal("release participants", err)
		}
		return nil
	})
	metrics.SessionEvents.WithLabelValues("complete", metrics.Outcome(err)).Inc()
	return err
}

// Participation returns userID's participant row in sessionID, active or not.
func (s *Service) Participation(ctx context.Context, sessionID, userID uint64) (*Participant, error) {
	var p Participant
	if err := s.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		First(&p).Error; err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.ErrNotParticipant
		}
		return nil, apperr.Internal("lookup participant", err)
	}
	return &p, nil
}

func (s *Service) withRoster(ctx context.Context, sess *Session) (*WithParticipants, error) {
	var ps []Participant
	if err := s.db.WithContext(ctx).
		Where("session_id = ? AND is_active = ?", sess.ID, true).
		Order("joined_at ASC").Order("id ASC").
		Find(&ps).Error; err != nil {
		return nil, apperr.Internal("load participants", err)
	}
	return &WithParticipants{Session: *sess, Participants: ps}, nil
}
