package order

import "time"

// Status is the order workflow state.
type Status string

const (
	StatusOrdered       Status = "ORDERED"
	StatusUnderReview   Status = "UNDER_REVIEW"
	StatusApproved      Status = "APPROVED"
	StatusRewardPending Status = "REWARD_PENDING"
	StatusCompleted     Status = "COMPLETED"
	StatusRejected      Status = "REJECTED"
	StatusFailed        Status = "FAILED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// EventType is the input driving a transition.
type EventType string

const (
	EventProofSubmitted      EventType = "proof_submitted"
	EventReviewApproved      EventType = "review_approved"
	EventRequirementVerified EventType = "requirement_verified"
	EventPayoutProcessed     EventType = "payout_processed"
	EventRejected            EventType = "rejected"
	EventFailed              EventType = "failed"
)

// forward holds the linear workflow edges. Rejection and failure edges are
// valid from any non-terminal state and resolved separately.
var forward = map[Status]map[EventType]Status{
	StatusOrdered:       {EventProofSubmitted: StatusUnderReview},
	StatusUnderReview:   {EventReviewApproved: StatusApproved},
	StatusApproved:      {EventRequirementVerified: StatusRewardPending},
	StatusRewardPending: {EventPayoutProcessed: StatusCompleted},
}

// next resolves the target status for (from, event), or false when the pair
// is not an edge of the workflow graph.
func next(from Status, event EventType) (Status, bool) {
	if from.Terminal() {
		return "", false
	}
	switch event {
	case EventRejected:
		return StatusRejected, true
	case EventFailed:
		return StatusFailed, true
	}
	to, ok := forward[from][event]
	return to, ok
}

// Item is one purchased line item, kept for reporting.
type Item struct {
	Name           string `json:"name"`
	SKU            string `json:"sku,omitempty"`
	Quantity       int    `json:"quantity"`
	UnitPricePaise int64  `json:"unit_price_paise"`
}

// Event is one append-only entry in the order's audit log. Entries are never
// edited or removed.
type Event struct {
	Type      string         `json:"type"`
	At        time.Time      `json:"at"`
	ActorID   string         `json:"actor_id,omitempty"`
	ActorRole string         `json:"actor_role,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Actor identifies who triggered a transition.
type Actor struct {
	ID   string
	Role string
}

// Order is the settlement workflow record. Status changes only through the
// transition table; the event log is the audit trail.
type Order struct {
	ID         string `json:"id"`
	ShopperID  string `json:"shopper_id"`
	MediatorID string `json:"mediator_id"`
	CampaignID string `json:"campaign_id,omitempty"`
	Status     Status `json:"status"`

	Items           []Item `json:"items,omitempty"`
	CommissionPaise int64  `json:"commission_paise"`
	CashbackPaise   int64  `json:"cashback_paise"`

	// Settlement references: journal rows holding the funds locked on
	// approval. Empty until the approve transition runs.
	CommissionTxID string `json:"commission_tx_id,omitempty"`
	CashbackTxID   string `json:"cashback_tx_id,omitempty"`

	Events []Event `json:"events"`

	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// clone returns a deep copy so callers cannot alias the stored slices.
func (o Order) clone() Order {
	out := o
	out.Items = append([]Item(nil), o.Items...)
	out.Events = append([]Event(nil), o.Events...)
	return out
}
