package models

import "time"

type SubmissionStatus string

const (
	SubmissionDraft     SubmissionStatus = "draft"
	SubmissionSubmitted SubmissionStatus = "submitted"
)

// Submission is owned either by a participant or by a team.
type Submission struct {
	ID            string           `json:"id" gorm:"primaryKey"`
	ChallengeID   string           `json:"challenge_id" gorm:"not null;index"`
	ParticipantID string           `json:"participant_id" gorm:"index"`
	TeamID        string           `json:"team_id,omitempty" gorm:"index"`
	ProjectTitle  string           `json:"project_title"`
	Status        SubmissionStatus `json:"status" gorm:"type:varchar(16);default:'draft';index"`
	Score         *float64         `json:"score,omitempty"`
	SubmittedAt   *time.Time       `json:"submitted_at,omitempty"`

	Timestamps
}

func (s Submission) IsTeam() bool {
	return s.TeamID != ""
}
