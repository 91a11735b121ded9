package models

import "time"

type EnrollmentStatus string

const (
	EnrollmentInProgress EnrollmentStatus = "in-progress"
	EnrollmentSubmitted  EnrollmentStatus = "submitted"
	EnrollmentCompleted  EnrollmentStatus = "completed"
	EnrollmentExpired    EnrollmentStatus = "expired"
)

// Enrollment = one user's participation in one challenge.
// completed/expired are final.
type Enrollment struct {
	ID          string           `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID      string           `gorm:"index;not null;uniqueIndex:idx_user_challenge" json:"user_id"`
	ChallengeID string           `gorm:"index;not null;uniqueIndex:idx_user_challenge" json:"challenge_id"`
	Status      EnrollmentStatus `gorm:"type:varchar(16);default:'in-progress';index" json:"status"`

	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CompletedReason string     `json:"completed_reason,omitempty"`
	ExpiredAt       *time.Time `json:"expired_at,omitempty"`
	ExpiredReason   string     `json:"expired_reason,omitempty"`

	Timestamps
}

func (Enrollment) TableName() string {
	return "user_challenges"
}
