package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BreakType string

const (
	BreakCash  BreakType = "CASH"
	BreakStock BreakType = "STOCK"
)

type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Rank orders severities so LOW < MEDIUM < HIGH.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// Escalate returns the next tier up. HIGH stays HIGH.
func (s Severity) Escalate() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

type BreakStatus string

const (
	BreakOpen     BreakStatus = "OPEN"
	BreakAssigned BreakStatus = "ASSIGNED"
	BreakResolved BreakStatus = "RESOLVED"
)

// Break is a detected discrepancy between an expected trade and the
// settlement ledger. ActualSettlementID and ActualReference are empty when no
// counterpart was found; ActualValue and Difference are then invalid.
type Break struct {
	ID                 string              `json:"id"`
	Type               BreakType           `json:"break_type"`
	ExpectedTradeID    string              `json:"expected_trade_id"`
	ActualSettlementID string              `json:"actual_settlement_id,omitempty"`
	ActualReference    string              `json:"actual_reference,omitempty"`
	TradeRef           string              `json:"trade_ref"`
	Account            string              `json:"account"`
	Instrument         string              `json:"instrument"`
	ExpectedValue      decimal.Decimal     `json:"expected_value"`
	ActualValue        decimal.NullDecimal `json:"actual_value"`
	Difference         decimal.NullDecimal `json:"difference"`
	Severity           Severity            `json:"severity"`
	Reason             string              `json:"reason"`
	Fingerprint        string              `json:"fingerprint"`
	Status             BreakStatus         `json:"status"`
	AssignedTo         string              `json:"assigned_to,omitempty"`
	ResolutionCode     string              `json:"resolution_code,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

type HistoryAction string

const (
	ActionAutoCreated HistoryAction = "AUTO_CREATED"
	ActionAssigned    HistoryAction = "ASSIGNED"
	ActionResolved    HistoryAction = "RESOLVED"
	ActionComment     HistoryAction = "COMMENT"
)

// SystemActor is recorded on history entries written by the engine.
const SystemActor = "system"

type BreakHistory struct {
	ID        string        `json:"id"`
	BreakID   string        `json:"break_id"`
	Action    HistoryAction `json:"action"`
	User      string        `json:"user"`
	Comment   string        `json:"comment,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// CanTransition reports whether a break in status from may move to status to.
// RESOLVED is terminal.
func CanTransition(from, to BreakStatus) bool {
	switch from {
	case BreakOpen:
		return to == BreakAssigned || to == BreakResolved
	case BreakAssigned:
		return to == BreakAssigned || to == BreakResolved
	}
	return false
}
