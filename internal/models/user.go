package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID              uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Email           string    `json:"email" gorm:"uniqueIndex;not null"`
	Password        string    `json:"-" gorm:"not null"`
	ProfileImageURL *string   `json:"profileImageUrl"`
	CreatedAt       time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt       time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
	// Records is filled from user_records on read, in association order.
	Records []uuid.UUID `json:"records" gorm:"-"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// UserRecord is one entry of a user's ordered record collection. Appending
// is a single insert, so concurrent appends never lose each other.
type UserRecord struct {
	Seq       uint      `gorm:"primaryKey;autoIncrement"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_user_record"`
	RecordID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_user_record;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}
