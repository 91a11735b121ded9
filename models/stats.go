package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type StatSubject string

const (
	StatSubjectGlobal       StatSubject = "global"
	StatSubjectUser         StatSubject = "user"
	StatSubjectOrganization StatSubject = "organization"
)

// Metric names the pipeline reads or writes.
const (
	MetricActiveChallengeIDs = "activeChallengeIds"
	MetricActiveTeamIDs      = "activeTeamIds"
	MetricSubmissionIDs      = "submissionIds"
	MetricParticipantIDs     = "participantIds"
	MetricCompletionRate     = "completionRate"
	MetricPrizesDistributed  = "prizesDistributed"
	MetricTotalChallenges    = "totalChallenges"
	MetricTotalParticipants  = "totalParticipants"
	MetricTotalPrizes        = "totalPrizes"
)

// PublicStatsID is the subject id of the global public counters.
const PublicStatsID = "public"

// StatDocumentID returns the key of a subject's stat document.
func StatDocumentID(subject StatSubject, subjectID string) string {
	return fmt.Sprintf("%s:%s", subject, subjectID)
}

// StatDocument groups the metrics of one subject.
type StatDocument struct {
	ID        string      `gorm:"primaryKey;type:varchar(160)" json:"id"`
	Subject   StatSubject `gorm:"type:varchar(16);not null;index" json:"subject"`
	SubjectID string      `gorm:"not null;index" json:"subject_id"`

	// Weighted completion-rate accumulators, across every challenge closed so far.
	TrackedParticipants int64 `gorm:"default:0" json:"-"`
	TrackedSubmissions  int64 `gorm:"default:0" json:"-"`

	// "YYYY-MM" of the last monthly prev rollover.
	LastRolloverPeriod string `gorm:"type:varchar(7)" json:"last_rollover_period,omitempty"`

	Metrics []StatMetric `gorm:"foreignKey:DocumentID" json:"metrics,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// MetricKind tags how a metric stores its magnitude.
type MetricKind string

const (
	// MetricKindArray: magnitude is len(IDs).
	MetricKindArray MetricKind = "array"
	// MetricKindScalar: magnitude is Value.
	MetricKindScalar MetricKind = "scalar"
	// MetricKindPrizePool: magnitude is Value; TrackedIDs guards double adds.
	MetricKindPrizePool MetricKind = "prize_pool"
)

// StatMetric is one {value, prev} pair of a stat document.
type StatMetric struct {
	ID         uint                        `gorm:"primaryKey" json:"-"`
	DocumentID string                      `gorm:"type:varchar(160);not null;uniqueIndex:idx_doc_metric" json:"-"`
	Name       string                      `gorm:"type:varchar(64);not null;uniqueIndex:idx_doc_metric" json:"name"`
	Kind       MetricKind                  `gorm:"type:varchar(16);not null" json:"kind"`
	Value      float64                     `gorm:"default:0" json:"value"`
	Prev       float64                     `gorm:"default:0" json:"prev"`
	IDs        datatypes.JSONSlice[string] `gorm:"column:ids" json:"ids,omitempty"`
	TrackedIDs datatypes.JSONSlice[string] `gorm:"column:tracked_ids" json:"-"`

	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Magnitude is the scalar the metric represents, by kind.
func (m StatMetric) Magnitude() float64 {
	switch m.Kind {
	case MetricKindArray:
		return float64(len(m.IDs))
	case MetricKindScalar, MetricKindPrizePool:
		return m.Value
	default:
		return 0
	}
}
