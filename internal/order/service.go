package order

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"cashback-platform/internal/notify"
	"cashback-platform/internal/wallet"
)

// Funds is the wallet surface the state machine drives. All calls are
// idempotent under their key, so a retried transition cannot double-apply
// its money effect.
type Funds interface {
	Credit(ctx context.Context, ownerID string, amountPaise int64, key string, typ wallet.TxType, meta wallet.Meta) (wallet.Transaction, error)
	SettlePending(ctx context.Context, ownerID string, amountPaise int64, key string, meta wallet.Meta) (wallet.Transaction, error)
	Reverse(ctx context.Context, transactionID, key string, meta wallet.Meta) (wallet.Transaction, error)
	ListTransactions(ctx context.Context, ownerID string, f wallet.Filter) ([]wallet.Transaction, error)
}

// Service drives the order workflow.
//
// A transition runs its wallet effect first, then writes the order under a
// version CAS. The wallet keys are deterministic per (orderID, transition),
// so a crash between the two steps is healed by retrying the transition: the
// wallet replies with the recorded outcome and only the order row advances.
type Service struct {
	store    Store
	funds    Funds
	notifier notify.Notifier
	log      *slog.Logger

	clock func() time.Time
	sleep func(time.Duration)
}

const (
	casMaxAttempts = 3
	casBackoffBase = 20 * time.Millisecond
)

func NewService(store Store, funds Funds, notifier notify.Notifier, log *slog.Logger) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    store,
		funds:    funds,
		notifier: notifier,
		log:      log,
		clock:    time.Now,
		sleep:    time.Sleep,
	}
}

// CreateParams describes a new purchase.
type CreateParams struct {
	ShopperID       string
	MediatorID      string
	CampaignID      string
	Items           []Item
	CommissionPaise int64
	CashbackPaise   int64
}

// Create records a purchase in ORDERED state.
func (s *Service) Create(ctx context.Context, p CreateParams) (Order, error) {
	if p.ShopperID == "" || p.MediatorID == "" {
		return Order{}, ErrInvalidArgument
	}
	if p.CommissionPaise < 0 || p.CashbackPaise < 0 {
		return Order{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	o := Order{
		ID:              uuid.NewString(),
		ShopperID:       p.ShopperID,
		MediatorID:      p.MediatorID,
		CampaignID:      p.CampaignID,
		Status:          StatusOrdered,
		Items:           append([]Item(nil), p.Items...),
		CommissionPaise: p.CommissionPaise,
		CashbackPaise:   p.CashbackPaise,
		Events: []Event{{
			Type: "created",
			At:   now,
		}},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Insert(ctx, o); err != nil {
		return Order{}, err
	}
	return o, nil
}

// Get returns a non-archived order.
func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	if id == "" {
		return Order{}, ErrInvalidArgument
	}
	o, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

// Archive soft-deletes an order. Orders are never hard-deleted.
func (s *Service) Archive(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidArgument
	}
	return s.store.Archive(ctx, id, s.clock().UTC())
}

// Transition applies event to the order, running the associated wallet effect
// and appending the audit entry. Invalid (status, event) pairs fail with a
// TransitionError and leave both the order and all wallets untouched.
func (s *Service) Transition(ctx context.Context, orderID string, event EventType, actor Actor, meta map[string]any) (Order, error) {
	if orderID == "" || event == "" {
		return Order{}, ErrInvalidArgument
	}

	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		o, ok, err := s.store.Get(ctx, orderID)
		if err != nil {
			return Order{}, err
		}
		if !ok {
			return Order{}, ErrOrderNotFound
		}

		to, allowed := next(o.Status, event)
		if !allowed {
			return Order{}, &TransitionError{OrderID: o.ID, Current: o.Status, Event: event}
		}

		now := s.clock().UTC()
		extra, err := s.applyFunds(ctx, &o, event, now)
		if err != nil {
			return Order{}, err
		}

		from := o.Status
		o.Status = to
		o.UpdatedAt = now
		o.Events = append(o.Events, Event{
			Type:      string(event),
			At:        now,
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			Metadata:  meta,
		})
		o.Events = append(o.Events, extra...)

		if err := s.store.Update(ctx, o, o.Version); err != nil {
			if errors.Is(err, errVersionConflict) {
				// Someone else moved the order; re-read and re-validate.
				// Wallet effects already applied are idempotent under their
				// keys and terminal edges stay valid across the retry.
				s.sleep(casBackoffBase << attempt)
				continue
			}
			return Order{}, err
		}
		o.Version++

		s.log.InfoContext(ctx, "order transitioned",
			"order_id", o.ID, "from", from, "to", to, "event", event, "actor_id", actor.ID)

		if to.Terminal() {
			s.fanOutNotify(ctx, o, to)
		}
		return o, nil
	}
	return Order{}, ErrConcurrentModification
}

// applyFunds runs the wallet side of a transition. It may mutate the order's
// settlement references and return extra audit events (reversal bookkeeping).
func (s *Service) applyFunds(ctx context.Context, o *Order, event EventType, now time.Time) ([]Event, error) {
	switch event {
	case EventReviewApproved:
		return nil, s.lockRewards(ctx, o)
	case EventPayoutProcessed:
		return nil, s.settleRewards(ctx, o)
	case EventRejected, EventFailed:
		return s.reverseRewards(ctx, o, now)
	default:
		return nil, nil
	}
}

// lockRewards holds commission and cashback in the payees' pending balances.
func (s *Service) lockRewards(ctx context.Context, o *Order) error {
	if o.CommissionPaise > 0 {
		txn, err := s.funds.Credit(ctx, o.MediatorID, o.CommissionPaise,
			transitionKey(o.ID, "approve", "commission"), wallet.TxTypeLock,
			wallet.Meta{OrderID: o.ID, CampaignID: o.CampaignID, ToID: o.MediatorID})
		if err != nil {
			return err
		}
		o.CommissionTxID = txn.ID
	}
	if o.CashbackPaise > 0 {
		txn, err := s.funds.Credit(ctx, o.ShopperID, o.CashbackPaise,
			transitionKey(o.ID, "approve", "cashback"), wallet.TxTypeLock,
			wallet.Meta{OrderID: o.ID, CampaignID: o.CampaignID, ToID: o.ShopperID})
		if err != nil {
			return err
		}
		o.CashbackTxID = txn.ID
	}
	return nil
}

// settleRewards releases the held funds into available balances.
func (s *Service) settleRewards(ctx context.Context, o *Order) error {
	if o.CommissionTxID != "" {
		_, err := s.funds.SettlePending(ctx, o.MediatorID, o.CommissionPaise,
			transitionKey(o.ID, "settle", "commission"),
			wallet.Meta{OrderID: o.ID, CampaignID: o.CampaignID})
		if err != nil {
			return err
		}
	}
	if o.CashbackTxID != "" {
		_, err := s.funds.SettlePending(ctx, o.ShopperID, o.CashbackPaise,
			transitionKey(o.ID, "settle", "cashback"),
			wallet.Meta{OrderID: o.ID, CampaignID: o.CampaignID})
		if err != nil {
			return err
		}
	}
	return nil
}

// reverseRewards compensates whatever is still held for this order. A hold
// already fully released produces a reversal_noop audit entry instead of a
// journal row.
func (s *Service) reverseRewards(ctx context.Context, o *Order, now time.Time) ([]Event, error) {
	var extra []Event
	for _, leg := range []struct {
		txID  string
		name  string
		payee string
	}{
		{o.CommissionTxID, "commission", o.MediatorID},
		{o.CashbackTxID, "cashback", o.ShopperID},
	} {
		if leg.txID == "" {
			// A crash between the approve's wallet effect and its order
			// write leaves the lock transaction unrecorded on the order.
			// The journal is authoritative: resolve the lock by its
			// deterministic key before treating the leg as absent.
			id, err := s.lockFromJournal(ctx, o, leg.name, leg.payee)
			if err != nil {
				return nil, err
			}
			if id == "" {
				continue
			}
			leg.txID = id
		}
		_, err := s.funds.Reverse(ctx, leg.txID,
			transitionKey(o.ID, "reject", leg.name),
			wallet.Meta{OrderID: o.ID, CampaignID: o.CampaignID})
		if err == nil {
			continue
		}
		if errors.Is(err, wallet.ErrNothingToReverse) {
			extra = append(extra, Event{
				Type: "reversal_noop",
				At:   now,
				Metadata: map[string]any{
					"leg":            leg.name,
					"payee_id":       leg.payee,
					"transaction_id": leg.txID,
				},
			})
			continue
		}
		if errors.Is(err, wallet.ErrNotReversible) {
			// Already reversed by a prior attempt of this transition.
			continue
		}
		return nil, err
	}
	return extra, nil
}

// lockFromJournal finds a completed lock for one leg of the order by its
// approve key. No wallet or no matching row means the lock never committed.
func (s *Service) lockFromJournal(ctx context.Context, o *Order, leg, payee string) (string, error) {
	txns, err := s.funds.ListTransactions(ctx, payee, wallet.Filter{
		Types:    []wallet.TxType{wallet.TxTypeLock},
		Statuses: []wallet.TxStatus{wallet.TxStatusCompleted},
		OrderID:  o.ID,
	})
	if errors.Is(err, wallet.ErrWalletNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	key := transitionKey(o.ID, "approve", leg)
	for _, txn := range txns {
		if txn.IdempotencyKey == key {
			return txn.ID, nil
		}
	}
	return "", nil
}

func (s *Service) fanOutNotify(ctx context.Context, o Order, to Status) {
	payload := map[string]any{
		"order_id": o.ID,
		"status":   string(to),
	}
	ctx = context.WithoutCancel(ctx)
	s.notifier.Notify(ctx, o.ShopperID, "order."+string(to), payload)
	s.notifier.Notify(ctx, o.MediatorID, "order."+string(to), payload)
}

func transitionKey(orderID, transition, leg string) string {
	return orderID + ":" + transition + ":" + leg
}
