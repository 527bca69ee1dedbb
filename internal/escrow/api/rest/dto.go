package rest

import (
	"time"
)

type CreateJobRequest struct {
	Worker string `json:"worker"`
	// Amount is a display amount, e.g. "0.01".
	Amount        string     `json:"amount"`
	Deadline      *time.Time `json:"deadline,omitempty"`
	DeadlineHours *float64   `json:"deadline_hours,omitempty"`
}

type SubmitWorkRequest struct {
	Deliverable string `json:"deliverable"`
}

type ServiceInfoResponse struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Contract string `json:"contract"`
	Network  string `json:"network"`
	Signer   string `json:"signer"`
	FeeBps   int64  `json:"fee_bps"`
}

type HealthResponse struct {
	Status          string    `json:"status"`
	LedgerReachable bool      `json:"ledger_reachable"`
	LedgerError     string    `json:"ledger_error,omitempty"`
	SequencerStuck  bool      `json:"sequencer_stuck"`
	CheckedAt       time.Time `json:"checked_at"`
}

type JobCountResponse struct {
	Count string `json:"count"`
}

type JobResponse struct {
	JobID        string     `json:"job_id"`
	Employer     string     `json:"employer"`
	Worker       string     `json:"worker"`
	Amount       string     `json:"amount"`
	AmountWei    string     `json:"amount_wei"`
	WorkerPayout string     `json:"worker_payout"`
	Deadline     time.Time  `json:"deadline"`
	Status       string     `json:"status"`
	StatusCode   uint8      `json:"status_code"`
	Deliverable  string     `json:"deliverable"`
	DisputeTime  *time.Time `json:"dispute_time"`
}

type TransitionResponse struct {
	Success  bool         `json:"success"`
	Action   string       `json:"action"`
	JobID    string       `json:"job_id"`
	TxHash   string       `json:"tx_hash"`
	Block    uint64       `json:"block"`
	Explorer string       `json:"explorer,omitempty"`
	Job      *JobResponse `json:"job,omitempty"`
}

type TxStatusResponse struct {
	TxHash       string  `json:"tx_hash"`
	Status       string  `json:"status"`
	Block        uint64  `json:"block,omitempty"`
	CreatedJobID *string `json:"created_job_id,omitempty"`
	Explorer     string  `json:"explorer,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
	TxHash  string `json:"tx_hash,omitempty"`
}
