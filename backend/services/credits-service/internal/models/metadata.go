package models

import (
	"encoding/json"
	"fmt"
)

// Metadata is a tagged union keyed by the transaction type. Exactly one of the
// typed payloads is set and matches Kind; Extra is an opaque bag for caller
// supplied debugging context.
type Metadata struct {
	Kind        TransactionType      `json:"kind"`
	Reservation *ReservationMetadata `json:"reservation,omitempty"`
	Settlement  *SettlementMetadata  `json:"settlement,omitempty"`
	Rollover    *RolloverMetadata    `json:"rollover,omitempty"`
	Admin       *AdminMetadata       `json:"admin,omitempty"`
	Extra       map[string]string    `json:"extra,omitempty"`
}

// ReservationMetadata describes what paid work a hold was taken for.
type ReservationMetadata struct {
	Feature   string `json:"feature"`
	Stage     string `json:"stage,omitempty"`
	Requested int64  `json:"requested"`
}

// SettlementMetadata is shared by commit, release and refund entries.
type SettlementMetadata struct {
	Reason        string `json:"reason,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	CrossCycle    bool   `json:"cross_cycle,omitempty"`
	// ChargedCycle is the start of the cycle a commit was charged against,
	// RFC 3339 with fractional seconds. Only set on commit entries.
	ChargedCycle string `json:"charged_cycle,omitempty"`
}

// RolloverMetadata records a bonus forfeiture at a cycle boundary.
type RolloverMetadata struct {
	Reason       string `json:"reason"`
	CarriedOver  int64  `json:"carried_over"`
	Forfeited    int64  `json:"forfeited"`
	CycleEndedAt string `json:"cycle_ended_at"`
}

// AdminMetadata records who changed the bonus pool and why.
type AdminMetadata struct {
	ActorID         string `json:"actor_id"`
	Reason          string `json:"reason"`
	Requested       int64  `json:"requested"`
	BonusTotalAfter int64  `json:"bonus_total_after"`
}

// Validate checks that the populated payload matches Kind.
func (m Metadata) Validate() error {
	set := 0
	for _, present := range []bool{m.Reservation != nil, m.Settlement != nil, m.Rollover != nil, m.Admin != nil} {
		if present {
			set++
		}
	}
	if set > 1 {
		return fmt.Errorf("metadata: %d payloads set for kind %q", set, m.Kind)
	}

	var ok bool
	switch m.Kind {
	case TxReservation:
		ok = m.Settlement == nil && m.Rollover == nil && m.Admin == nil
	case TxCommit, TxRelease, TxRefund, TxFailure:
		ok = m.Reservation == nil && m.Rollover == nil && m.Admin == nil
	case TxUsage:
		ok = m.Reservation == nil && m.Settlement == nil && m.Admin == nil
	case TxAdminAdjustment:
		ok = m.Reservation == nil && m.Settlement == nil && m.Rollover == nil
	default:
		return fmt.Errorf("metadata: unknown kind %q", m.Kind)
	}
	if !ok {
		return fmt.Errorf("metadata: payload does not match kind %q", m.Kind)
	}
	return nil
}

// Marshal encodes metadata for storage.
func (m Metadata) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalMetadata decodes stored metadata. Empty input yields a zero value.
func UnmarshalMetadata(data []byte) (Metadata, error) {
	var m Metadata
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("metadata: decode: %w", err)
	}
	return m, nil
}
