package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ChallengeStatus is the lifecycle state of a challenge.
// draft → active → judging → completed, never backwards.
type ChallengeStatus string

const (
	ChallengeStatusDraft     ChallengeStatus = "draft"
	ChallengeStatusActive    ChallengeStatus = "active"
	ChallengeStatusJudging   ChallengeStatus = "judging"
	ChallengeStatusCompleted ChallengeStatus = "completed"
)

var challengeStatusOrder = map[ChallengeStatus]int{
	ChallengeStatusDraft:     0,
	ChallengeStatusActive:    1,
	ChallengeStatusJudging:   2,
	ChallengeStatusCompleted: 3,
}

// CanTransitionTo reports whether next is the single step after s.
func (s ChallengeStatus) CanTransitionTo(next ChallengeStatus) bool {
	from, ok := challengeStatusOrder[s]
	if !ok {
		return false
	}
	to, ok := challengeStatusOrder[next]
	if !ok {
		return false
	}
	return to == from+1
}

const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Reasons stamped on records the pipeline moves.
const (
	ReasonDeadlinePassed = "deadline_passed"
	ReasonScoresReleased = "scores_released"
)

// Challenge represents one hosted competition.
type Challenge struct {
	ID             string          `json:"id" gorm:"primaryKey"`
	Title          string          `json:"title" gorm:"not null"`
	OrganizationID string          `json:"organization_id" gorm:"index"`
	Visibility     string          `json:"visibility" gorm:"type:varchar(16);default:'public';index"`
	Status         ChallengeStatus `json:"status" gorm:"type:varchar(16);default:'draft';index"`
	Deadline       time.Time       `json:"deadline" gorm:"not null;index"`

	TotalPrize        decimal.Decimal                       `json:"total_prize" gorm:"type:numeric(14,2);default:0"`
	Currency          string                                `json:"currency" gorm:"type:varchar(3);default:'USD'"`
	PrizeDistribution datatypes.JSONType[PrizeDistribution] `json:"prize_distribution"`
	ScoresReleased    bool                                  `json:"scores_released" gorm:"default:false;index"`

	// Written by the pipeline.
	Awards                 datatypes.JSONType[Awards]                 `json:"awards"`
	CompletionStats        datatypes.JSONType[CompletionStats]        `json:"completion_stats"`
	PrizeDistributionStats datatypes.JSONType[PrizeDistributionStats] `json:"prize_distribution_stats"`
	AwardsNotified         datatypes.JSONSlice[string]                `json:"awards_notified"`
	ReleaseAttempts        int                                        `json:"release_attempts" gorm:"default:0"`

	JudgingStartedAt *time.Time `json:"judging_started_at,omitempty"`
	JudgingReason    string     `json:"judging_reason,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CompletedReason  string     `json:"completed_reason,omitempty"`

	Timestamps
}

// PrizeDistribution is the partner-configured split of the prize pool.
type PrizeDistribution struct {
	First      decimal.Decimal   `json:"first"`
	Second     decimal.Decimal   `json:"second"`
	Third      decimal.Decimal   `json:"third"`
	Additional []AdditionalPrize `json:"additional,omitempty"`
}

// AdditionalPrize is a named special award. SubmissionID designates the
// recipient; entries without one are not paid out.
type AdditionalPrize struct {
	Name         string          `json:"name"`
	Amount       decimal.Decimal `json:"amount"`
	SubmissionID string          `json:"submissionId,omitempty"`
}

// CompletionStats is the snapshot attached when a challenge enters judging.
type CompletionStats struct {
	TotalParticipants     int       `json:"totalParticipants"`
	ParticipantsCompleted int       `json:"participantsCompleted"`
	ParticipantsExpired   int       `json:"participantsExpired"`
	CompletionRate        int       `json:"completionRate"`
	TeamsDisabled         int       `json:"teamsDisabled"`
	TeamsSubmitted        int       `json:"teamsSubmitted"`
	TeamCompletionRate    int       `json:"teamCompletionRate"`
	ProcessedAt           time.Time `json:"processedAt"`
}

// PrizeDistributionStats summarizes a score release.
type PrizeDistributionStats struct {
	WinnersProcessed      int             `json:"winnersProcessed"`
	ParticipantsNotified  int             `json:"participantsNotified"`
	TotalPrizeDistributed decimal.Decimal `json:"totalPrizeDistributed"`
	UnpaidAwards          []string        `json:"unpaidAwards,omitempty"`
	ProcessedAt           time.Time       `json:"processedAt"`
}
