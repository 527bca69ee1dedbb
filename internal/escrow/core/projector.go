package core

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// statusCodes is the ledger's status encoding. Code order is part of the
// deployed contract and must not be reordered.
var statusCodes = []Status{
	StatusCreated,
	StatusWorkSubmitted,
	StatusCompleted,
	StatusCancelled,
	StatusDisputed,
}

// StatusFromCode maps a ledger status code. Unrecognized codes map to
// StatusUnknown.
func StatusFromCode(code uint8) Status {
	if int(code) < len(statusCodes) {
		return statusCodes[code]
	}
	return StatusUnknown
}

// StatusCode returns the ledger code for s.
func StatusCode(s Status) (uint8, bool) {
	for i, candidate := range statusCodes {
		if candidate == s {
			return uint8(i), true
		}
	}
	return 0, false
}

// Projector converts between ledger snapshots and Jobs. Decimals is the
// number of fractional digits between the smallest unit and the display
// unit (18 for ether).
type Projector struct {
	Decimals int
}

func NewProjector(decimals int) Projector {
	return Projector{Decimals: decimals}
}

// Project builds a Job from a raw snapshot. A snapshot with a zero employer
// is an empty ledger slot and yields ErrJobNotFound.
func (p Projector) Project(id JobID, raw JobSnapshot) (*Job, error) {
	if raw.Employer == (common.Address{}) {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}

	deadline, err := unixToTime(raw.Deadline)
	if err != nil {
		return nil, fmt.Errorf("job %s deadline: %w", id, err)
	}

	job := &Job{
		ID:          id,
		Employer:    raw.Employer,
		Worker:      raw.Worker,
		Amount:      cloneOrZero(raw.Amount),
		Deadline:    deadline,
		Status:      StatusFromCode(raw.Status),
		StatusCode:  raw.Status,
		Deliverable: raw.Deliverable,
	}

	if raw.DisputeTime != nil && raw.DisputeTime.Sign() > 0 {
		t, err := unixToTime(raw.DisputeTime)
		if err != nil {
			return nil, fmt.Errorf("job %s dispute time: %w", id, err)
		}
		job.DisputeTime = &t
	}
	return job, nil
}

// Snapshot is the inverse of Project.
func (p Projector) Snapshot(job *Job) JobSnapshot {
	raw := JobSnapshot{
		Employer:    job.Employer,
		Worker:      job.Worker,
		Amount:      cloneOrZero(job.Amount),
		Deadline:    big.NewInt(job.Deadline.Unix()),
		Status:      job.StatusCode,
		Deliverable: job.Deliverable,
		DisputeTime: new(big.Int),
	}
	if code, ok := StatusCode(job.Status); ok {
		raw.Status = code
	}
	if job.DisputeTime != nil {
		raw.DisputeTime = big.NewInt(job.DisputeTime.Unix())
	}
	return raw
}

// FormatAmount renders a smallest-unit amount as an exact decimal string
// without trailing zeros ("10000000000000000" -> "0.01").
func (p Projector) FormatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	neg := amount.Sign() < 0
	digits := new(big.Int).Abs(amount).String()

	if p.Decimals > 0 {
		if len(digits) <= p.Decimals {
			digits = strings.Repeat("0", p.Decimals-len(digits)+1) + digits
		}
		whole, frac := digits[:len(digits)-p.Decimals], strings.TrimRight(digits[len(digits)-p.Decimals:], "0")
		digits = whole
		if frac != "" {
			digits += "." + frac
		}
	}
	if neg {
		return "-" + digits
	}
	return digits
}

// ParseAmount parses a non-negative display amount into the smallest unit.
// Amounts with more fractional digits than Decimals are rejected rather
// than rounded.
func (p Projector) ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("amount is empty")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("amount %q is negative", s)
	}
	s = strings.TrimPrefix(s, "+")

	whole, frac, hasDot := strings.Cut(s, ".")
	if hasDot && frac == "" && whole == "" {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > p.Decimals {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", s, p.Decimals)
	}
	if !isDigits(whole) || !isDigits(frac) {
		return nil, fmt.Errorf("invalid amount %q", s)
	}

	frac += strings.Repeat("0", p.Decimals-len(frac))
	v, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func unixToTime(v *big.Int) (time.Time, error) {
	if v == nil {
		return time.Unix(0, 0).UTC(), nil
	}
	if v.Sign() < 0 || !v.IsInt64() || v.Int64() > math.MaxInt64/int64(time.Second) {
		return time.Time{}, fmt.Errorf("timestamp %s out of range", v)
	}
	return time.Unix(v.Int64(), 0).UTC(), nil
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
