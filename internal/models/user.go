package models

import "time"

type User struct {
	ID                 uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Email              string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Username           string     `gorm:"type:varchar(50);uniqueIndex;not null" json:"username"`
	FirstName          string     `gorm:"type:varchar(100);not null" json:"first_name"`
	LastName           string     `gorm:"type:varchar(100);not null" json:"last_name"`
	PasswordHash       string     `gorm:"type:varchar(255);not null" json:"-"`
	IsActive           bool       `gorm:"not null;default:true" json:"is_active"`
	IsVerified         bool       `gorm:"not null;default:false" json:"is_verified"`
	PhoneNumber        *string    `gorm:"type:varchar(20)" json:"phone_number,omitempty"`
	DateOfBirth        *time.Time `gorm:"type:date" json:"date_of_birth,omitempty"`
	Gender             *string    `gorm:"type:varchar(20)" json:"gender,omitempty"`
	RelationshipStatus *string    `gorm:"type:varchar(50)" json:"relationship_status,omitempty"`
	PartnerID          *uint64    `gorm:"index" json:"partner_id"`
	LastLogin          *time.Time `json:"last_login,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (User) TableName() string { return "users" }

const (
	RelationshipSingle         = "single"
	RelationshipInRelationship = "in_relationship"
)
