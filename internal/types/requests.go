// Package types provides common type definitions used across the backend
package types

// EnqueueWithdrawalRequest body of POST /api/withdrawals
type EnqueueWithdrawalRequest struct {
	Destination string `json:"destination" binding:"required"`
	Amount      string `json:"amount" binding:"required"` // smallest units, decimal string
	Asset       string `json:"asset" binding:"required"`  // "native" or "jetton"
	JettonName  string `json:"jetton_name"`               // required when asset is "jetton"
}

// WithdrawalStatusResponse caller-facing view of a withdrawal
type WithdrawalStatusResponse struct {
	ID          string  `json:"id"`
	Destination string  `json:"destination"`
	Amount      string  `json:"amount"`
	Asset       string  `json:"asset"`
	JettonName  string  `json:"jetton_name,omitempty"`
	Status      string  `json:"status"`
	BatchID     *uint64 `json:"batch_id,omitempty"`
}

// AdminLoginRequest operator login with password and TOTP code
type AdminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code" binding:"required"`
}

// ReleaseRequest operator request to return escalated work to the pool
type ReleaseRequest struct {
	Note string `json:"note"`
}
