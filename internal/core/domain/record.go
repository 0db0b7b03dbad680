package domain

import "time"

type RecordStatus string

const (
	RecordPending   RecordStatus = "pending"
	RecordProcessed RecordStatus = "processed"
	RecordInvalid   RecordStatus = "invalid"
	RecordError     RecordStatus = "error"
)

func (s RecordStatus) Terminal() bool {
	switch s {
	case RecordProcessed, RecordInvalid, RecordError:
		return true
	default:
		return false
	}
}

// ReceiptFields is the structured payload of a processed receipt. Every field
// is nullable because the normalizer may not find it.
type ReceiptFields struct {
	StoreName    *string  `json:"store_name"`
	TotalAmount  *float64 `json:"total_amount"`
	Currency     *string  `json:"currency"`
	Date         *string  `json:"date"`
	TicketNumber *string  `json:"ticket_number"`
}

// Record is one persisted extraction attempt.
type Record struct {
	ID              string         `json:"id"`
	OwnerIdentifier string         `json:"owner_identifier"`
	Status          RecordStatus   `json:"status"`
	Fields          *ReceiptFields `json:"fields,omitempty"`
	RawText         string         `json:"raw_text,omitempty"`
	SourceRef       string         `json:"source_ref"`
	FailureReason   string         `json:"failure_reason,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// RecordOutcome is the terminal write applied to a pending record.
type RecordOutcome struct {
	Status        RecordStatus
	Fields        *ReceiptFields
	RawText       string
	FailureReason string
}

// Normalize clears the parts of the outcome that its status does not allow.
func (o RecordOutcome) Normalize() RecordOutcome {
	out := o
	if out.Status != RecordProcessed {
		out.Fields = nil
	}
	if out.Status == RecordProcessed {
		out.FailureReason = ""
	}
	return out
}

// Normalization is the verdict of the semantic normalization stage. A
// rejection (Valid == false) is a regular outcome, not an error.
type Normalization struct {
	Valid  bool
	Fields ReceiptFields
	Reason string
}

// PipelineOutcome is the tagged result of one extraction run. Status is one
// of the terminal record statuses.
type PipelineOutcome struct {
	Status   RecordStatus
	RecordID string
	Fields   *ReceiptFields
	Reason   string
	Err      error
}

func (o PipelineOutcome) Succeeded() bool {
	return o.Status == RecordProcessed
}

// NextState maps a pipeline outcome to the terminal conversation state.
func (o PipelineOutcome) NextState() State {
	if o.Succeeded() {
		return StateSucceeded
	}
	return StateFailed
}
