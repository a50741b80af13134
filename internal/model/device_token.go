package model

import "time"

// DeviceToken is a push registration for one device. For the FCM provider it is
// the registration token; for Web Push it is the JSON encoded subscription.
type DeviceToken struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Token     string    `gorm:"size:500;uniqueIndex;not null" json:"token"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
