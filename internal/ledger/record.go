package ledger

// PurchaseRecord is the audit entry written once per completed transaction.
// Timestamps are epoch milliseconds. Price fields are reporting metadata
// copied from the payment processor and may be absent.
type PurchaseRecord struct {
	TransactionID string `json:"transactionId"`
	TokenIssuedAt int64  `json:"tokenIssuedAt"`
	ExpiresAt     int64  `json:"expiresAt,omitempty"`
	PriceID       string `json:"priceId,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
}

// ReportDeliveryRecord marks one premium report produced for a transaction.
// A transaction may accumulate any number of deliveries.
type ReportDeliveryRecord struct {
	TransactionID string `json:"transactionId"`
	ReportID      string `json:"reportId"`
	DeliveredAt   int64  `json:"deliveredAt"`
}

// DeliveryStats summarizes deliveries for one transaction. LastDeliveredAt is
// nil when nothing has been delivered.
type DeliveryStats struct {
	DeliveredCount  int64  `json:"deliveredCount"`
	LastDeliveredAt *int64 `json:"lastDeliveredAt"`
}
