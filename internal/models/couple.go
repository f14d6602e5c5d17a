package models

import "time"

type Couple struct {
	ID                    uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	User1ID               uint64     `gorm:"not null;uniqueIndex:uniq_couple_pair,priority:1;index" json:"user1_id"`
	User2ID               uint64     `gorm:"not null;uniqueIndex:uniq_couple_pair,priority:2;index" json:"user2_id"`
	RelationshipStartDate *time.Time `gorm:"type:date" json:"relationship_start_date,omitempty"`
	IsActive              bool       `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

func (Couple) TableName() string { return "couples" }

func (c *Couple) HasMember(userID uint64) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// Other returns the member that is not userID.
func (c *Couple) Other(userID uint64) uint64 {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}
