package events

// Event types published on the challenge events topic.
const (
	TypeChallengeJudgingStarted = "challenge.judging_started"
	TypeChallengeCompleted      = "challenge.completed"
	TypeWalletCredited          = "wallet.credited"
	TypeNotificationCreated     = "notification.created"
)

// Event is the envelope written to Kafka. Key is the aggregate id and
// decides the partition.
type Event struct {
	Type      string `json:"type"`
	Key       string `json:"-"`
	Payload   any    `json:"payload"`
	Timestamp string `json:"timestamp"`
}

type ChallengeJudgingStartedEvent struct {
	ChallengeID           string `json:"challengeId"`
	OrganizationID        string `json:"organizationId"`
	Title                 string `json:"title"`
	ParticipantsCompleted int    `json:"participantsCompleted"`
	ParticipantsExpired   int    `json:"participantsExpired"`
	TeamsClosed           int    `json:"teamsClosed"`
	CompletionRate        int    `json:"completionRate"`
}

type ChallengeCompletedEvent struct {
	ChallengeID           string `json:"challengeId"`
	OrganizationID        string `json:"organizationId"`
	Title                 string `json:"title"`
	WinnersProcessed      int    `json:"winnersProcessed"`
	ParticipantsNotified  int    `json:"participantsNotified"`
	TotalPrizeDistributed string `json:"totalPrizeDistributed"`
}

type WalletCreditedEvent struct {
	WalletID    string `json:"walletId"`
	OwnerID     string `json:"ownerId"`
	OwnerType   string `json:"ownerType"`
	Amount      string `json:"amount"`
	Balance     string `json:"balance"`
	ChallengeID string `json:"challengeId,omitempty"`
	AwardKey    string `json:"awardKey,omitempty"`
}

type NotificationCreatedEvent struct {
	NotificationID string `json:"notificationId"`
	UserID         string `json:"userId"`
	Type           string `json:"type"`
	Title          string `json:"title"`
	Link           string `json:"link,omitempty"`
}
