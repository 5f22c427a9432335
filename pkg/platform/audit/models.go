package audit

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers movements of value and disbursement approvals.
	// These require durable storage and long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers access control and wiring changes: role grants,
	// registry updates, oracle configuration.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity useful for debugging.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted by the ledger components for every state change, the way a
// contract emits a log. Keep it transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        uuid.UUID
	Category  EventCategory
	Timestamp time.Time
	// Actor is the transaction sender.
	Actor common.Address
	// Subject is the primary entity touched (fund address, registry name, ...).
	Subject   string
	Action    string
	FundID    *uint64
	RequestID *uint64
	// Details carries the event arguments in string form.
	Details map[string]string
	// CorrelationID is the HTTP request id when the change came through the API.
	CorrelationID string
}

// WithFund sets FundID.
func (e Event) WithFund(id uint64) Event {
	e.FundID = &id
	return e
}

// WithRequest sets RequestID.
func (e Event) WithRequest(id uint64) Event {
	e.RequestID = &id
	return e
}

type AuditEvent string

const (
	// Registry events
	EventRegistered      AuditEvent = "registered"
	EventRegistryUpdated AuditEvent = "registry_updated"

	// Access control events
	EventRoleGranted AuditEvent = "role_granted"
	EventRoleRevoked AuditEvent = "role_revoked"

	// Fund events
	EventFundCreated    AuditEvent = "fund_created"
	EventFundPaused     AuditEvent = "fund_paused"
	EventFundResumed    AuditEvent = "fund_resumed"
	EventFundClosed     AuditEvent = "fund_closed"
	EventBalanceUpdated AuditEvent = "balance_updated"
	EventChecksUpdated  AuditEvent = "checks_updated"
	EventSafeDeployed   AuditEvent = "safe_deployed"

	// Governor events
	EventRequestCreated  AuditEvent = "request_created"
	EventSigned          AuditEvent = "signed"
	EventCheckDeclined   AuditEvent = "check_declined"
	EventRequestApproved AuditEvent = "request_approved"
	EventOracleCalled    AuditEvent = "oracle_called"
	EventOracleFailed    AuditEvent = "oracle_dispatch_failed"

	// Donation and token events
	EventDonated     AuditEvent = "donated"
	EventSOSMinted   AuditEvent = "sos_minted"
	EventTransfer    AuditEvent = "transfer"
	EventApproval    AuditEvent = "approval"
	EventTokenIssued AuditEvent = "token_deployed"

	// Oracle consumer events
	EventOracleConfigured AuditEvent = "oracle_configured"
	EventLinkWithdrawn    AuditEvent = "link_withdrawn"
	EventOracleFulfilled  AuditEvent = "oracle_fulfilled"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventDonated:         CategoryCompliance,
	EventBalanceUpdated:  CategoryCompliance,
	EventRequestCreated:  CategoryCompliance,
	EventSigned:          CategoryCompliance,
	EventRequestApproved: CategoryCompliance,
	EventOracleFulfilled: CategoryCompliance,
	EventFundClosed:      CategoryCompliance,
	EventLinkWithdrawn:   CategoryCompliance,

	EventRegistered:       CategorySecurity,
	EventRegistryUpdated:  CategorySecurity,
	EventRoleGranted:      CategorySecurity,
	EventRoleRevoked:      CategorySecurity,
	EventOracleConfigured: CategorySecurity,
	EventChecksUpdated:    CategorySecurity,
	EventFundPaused:       CategorySecurity,
	EventFundResumed:      CategorySecurity,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
