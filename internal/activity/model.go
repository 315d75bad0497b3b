package activity

import "time"

// Event kinds recorded by the operational surfaces.
const (
	KindTokenIssued     = "token.issued"
	KindReportDelivered = "report.delivered"
	KindWebhookIgnored  = "webhook.ignored"
	KindAdminLogin      = "admin.login"
)

// Event is one entry in the admin activity log.
type Event struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	Kind          string    `gorm:"index;size:64" json:"kind"`
	TransactionID string    `gorm:"index;size:128" json:"transactionId,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	CreatedAt     time.Time `gorm:"index" json:"createdAt"`
}

// TableName pins the table name independent of gorm pluralization rules.
func (Event) TableName() string {
	return "activity_events"
}
