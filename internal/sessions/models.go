package sessions

import "time"

const (
	ModeSolo   = "solo"
	ModeCouple = "couple"

	StatusActive    = "active"
	StatusCompleted = "completed"

	RoleCreator     = "creator"
	RoleParticipant = "participant"

	DefaultMaxParticipants = 2
)

type Session struct {
	ID                  uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionCode         string    `gorm:"type:varchar(8);uniqueIndex;not null" json:"session_code"`
	CreatorUserID       uint64    `gorm:"index;not null" json:"creator_user_id"`
	SessionMode         string    `gorm:"type:varchar(10);not null;default:couple" json:"session_mode"`
	CoupleID            *uint64   `gorm:"index" json:"couple_id"`
	CurrentParticipants int       `gorm:"not null;default:1" json:"current_participants"`
	MaxParticipants     int       `gorm:"not null;default:2" json:"max_participants"`
	Status              string    `gorm:"type:varchar(20);not null;default:active;index" json:"status"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "sessions" }

type Participant struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID uint64    `gorm:"not null;uniqueIndex:uniq_session_participant,priority:1" json:"session_id"`
	UserID    uint64    `gorm:"not null;uniqueIndex:uniq_session_participant,priority:2;index:idx_participant_user_active,priority:1" json:"user_id"`
	Role      string    `gorm:"type:varchar(20);not null;default:participant" json:"role"`
	IsActive  bool      `gorm:"not null;default:true;index:idx_participant_user_active,priority:2" json:"is_active"`
	JoinedAt  time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

func (Participant) TableName() string { return "session_participants" }

// WithParticipants is a session together with its active roster.
type WithParticipants struct {
	Session
	Participants []Participant `json:"participants"`
}
