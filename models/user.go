package models

const (
	UserTypeParticipant = "participant"
	UserTypePartner     = "partner"
	UserTypeAdmin       = "admin"
)

// User is the slice of the platform's user record the pipeline reads.
type User struct {
	ID          string `gorm:"primaryKey" json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	UserType    string `gorm:"column:user_type;type:varchar(16);index" json:"user_type"`

	Timestamps
}
