package models

import (
	"time"

	"gorm.io/datatypes"
)

type TeamStatus string

const (
	TeamStatusActive TeamStatus = "active"
	TeamStatusClosed TeamStatus = "closed"
)

type MemberStatus string

const (
	MemberStatusActive  MemberStatus = "active"
	MemberStatusLeft    MemberStatus = "left"
	MemberStatusRemoved MemberStatus = "removed"
)

// Team collaborates on one submission for one challenge.
type Team struct {
	ID             string                      `json:"id" gorm:"primaryKey"`
	ChallengeID    string                      `json:"challenge_id" gorm:"not null;index"`
	Name           string                      `json:"name"`
	Status         TeamStatus                  `json:"status" gorm:"type:varchar(16);default:'active';index"`
	HasSubmitted   bool                        `json:"has_submitted" gorm:"default:false"`
	MaxMembers     int                         `json:"max_members" gorm:"default:0"`
	CurrentMembers int                         `json:"current_members" gorm:"default:0"`
	Admins         datatypes.JSONSlice[string] `json:"admins"`
	Tags           datatypes.JSONSlice[string] `json:"tags"`
	ClosedAt       *time.Time                  `json:"closed_at,omitempty"`
	ClosedReason   string                      `json:"closed_reason,omitempty"`

	Members []TeamMember `json:"members,omitempty" gorm:"foreignKey:TeamID"`

	Timestamps
}

// TeamMember is one row of a team's membership.
type TeamMember struct {
	ID       string       `json:"id" gorm:"primaryKey"`
	TeamID   string       `json:"team_id" gorm:"not null;index;uniqueIndex:idx_team_user"`
	UserID   string       `json:"user_id" gorm:"not null;index;uniqueIndex:idx_team_user"`
	Role     string       `json:"role" gorm:"type:varchar(16);default:'member'"`
	Status   MemberStatus `json:"status" gorm:"type:varchar(16);default:'active';index"`
	JoinedAt time.Time    `json:"joined_at" gorm:"autoCreateTime"`
}
