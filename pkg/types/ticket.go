// Package types defines the canonical trade-ticket and approval schema used
// across all services.
package types

import (
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Ticket statuses
// ──────────────────────────────────────────────────────────────────────────────

type TicketStatus string

const (
	TicketDraft           TicketStatus = "draft"
	TicketSubmitted       TicketStatus = "submitted"
	TicketPendingApproval TicketStatus = "pending_approval"
	TicketApproved        TicketStatus = "approved"
	TicketRejected        TicketStatus = "rejected"
)

// Ticket is the narrow view of a trade ticket the approval engine needs.
// The full ticket domain (counterparties, line items, documents) is owned
// by the trading-operations services and is opaque here beyond the fact
// record its fields are flattened into.
type Ticket struct {
	ID        string       `json:"id"`
	Reference string       `json:"reference"`
	Desk      string       `json:"desk"`
	Status    TicketStatus `json:"status"`
	Facts     FactRecord   `json:"facts"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// FactRecord — flat field→scalar mapping rules are evaluated against.
// ──────────────────────────────────────────────────────────────────────────────

// FactRecord maps ticket field names to scalar values (strings, numbers,
// booleans, dates-as-strings). Values arrive via JSON, so numbers are
// float64 and absent fields are simply missing keys.
type FactRecord map[string]any

// Lookup returns the value for a field and whether it is present.
// A present key holding nil counts as absent.
func (f FactRecord) Lookup(field string) (any, bool) {
	v, ok := f[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}
