package models

import "time"

// Profile is the display identity of a user. Rows belong to the profile
// directory; this service only reads them.
type Profile struct {
	ID        uint    `gorm:"primaryKey"`
	UserID    uint    `gorm:"not null;uniqueIndex"`
	Username  string  `gorm:"size:100;not null;index"`
	Avatar    *string `gorm:"size:500"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Profile) TableName() string {
	return "profiles"
}
