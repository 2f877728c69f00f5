package dto

// CreatePaymentRequest is the request body for payment creation.
type CreatePaymentRequest struct {
	Amount        int64             `json:"amount_minor_units" binding:"required,gt=0"`
	Currency      string            `json:"currency" binding:"required,len=3"`
	PaymentMethod string            `json:"payment_method" binding:"required,safe_id,max=50"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// PaymentResponse is the response body for payment lookups.
type PaymentResponse struct {
	ID                string            `json:"id"`
	Amount            int64             `json:"amount_minor_units"`
	Currency          string            `json:"currency"`
	Status            string            `json:"status"`
	PaymentMethod     string            `json:"payment_method"`
	ExternalPaymentID *string           `json:"external_payment_id,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         string            `json:"created_at"`
	UpdatedAt         string            `json:"updated_at"`
}

// ReconciliationRecordRequest is one uploaded statement line.
type ReconciliationRecordRequest struct {
	ExternalTransactionID string `json:"external_transaction_id" binding:"required,safe_id,max=100"`
	Amount                int64  `json:"amount" binding:"required,gt=0"`
	Currency              string `json:"currency" binding:"required,len=3"`
	TransactionDate       string `json:"transaction_date" binding:"required"` // RFC 3339
}

// ReconciliationUploadRequest is the request body for a statement upload.
type ReconciliationUploadRequest struct {
	Records []ReconciliationRecordRequest `json:"records" binding:"required,min=1,max=1000,dive"`
}

// ReconciliationUploadResponse reports how many records were ingested.
type ReconciliationUploadResponse struct {
	Ingested int `json:"ingested"`
}
