package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cashback-platform/internal/auth"
	"cashback-platform/internal/order"
	"cashback-platform/internal/replicator"
	"cashback-platform/internal/wallet"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Wallet     *wallet.Service
	Orders     *order.Service
	Reconciler *replicator.Reconciler

	// ResyncLimit caps resync requests that do not carry their own limit.
	ResyncLimit int
}

// writeError maps service errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var te *order.TransitionError
	if errors.As(err, &te) {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":          "invalid transition",
			"current_status": string(te.Current),
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, wallet.ErrInvalidArgument),
		errors.Is(err, order.ErrInvalidArgument),
		errors.Is(err, replicator.ErrUnknownEntity):
		status = http.StatusBadRequest
	case errors.Is(err, wallet.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, wallet.ErrWalletNotFound),
		errors.Is(err, wallet.ErrTransactionNotFound),
		errors.Is(err, order.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, wallet.ErrIdempotencyConflict),
		errors.Is(err, wallet.ErrConcurrentModification),
		errors.Is(err, wallet.ErrNotReversible),
		errors.Is(err, wallet.ErrNothingToReverse),
		errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrConcurrentModification):
		status = http.StatusConflict
	}

	body := gin.H{"error": err.Error()}
	if status == http.StatusInternalServerError {
		body = gin.H{"error": "internal error"}
	}
	c.AbortWithStatusJSON(status, body)
}

// --- Wallet ---

type applyRequest struct {
	OwnerID        string `json:"owner_id"`
	AmountPaise    int64  `json:"amount_paise"`
	IdempotencyKey string `json:"idempotency_key"`
	Type           string `json:"type,omitempty"`
	OrderID        string `json:"order_id,omitempty"`
	CampaignID     string `json:"campaign_id,omitempty"`
	Metadata       string `json:"metadata,omitempty"`
}

func (r applyRequest) meta() wallet.Meta {
	return wallet.Meta{
		OrderID:    r.OrderID,
		CampaignID: r.CampaignID,
		JSON:       r.Metadata,
	}
}

func (h Handlers) ApplyCredit(c *gin.Context) {
	var req applyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.OwnerID == "" || req.IdempotencyKey == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "owner_id and idempotency_key required"})
		return
	}
	txn, err := h.Wallet.Credit(c.Request.Context(), req.OwnerID, req.AmountPaise, req.IdempotencyKey, wallet.TxType(req.Type), req.meta())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

func (h Handlers) ApplyDebit(c *gin.Context) {
	var req applyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.OwnerID == "" || req.IdempotencyKey == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "owner_id and idempotency_key required"})
		return
	}
	txn, err := h.Wallet.Debit(c.Request.Context(), req.OwnerID, req.AmountPaise, req.IdempotencyKey, req.meta())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

func (h Handlers) GetWalletBalance(c *gin.Context) {
	ownerID := c.Param("owner_id")
	if ownerID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "owner_id required"})
		return
	}
	bal, err := h.Wallet.GetBalance(c.Request.Context(), ownerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (h Handlers) ListTransactions(c *gin.Context) {
	ownerID := c.Param("owner_id")
	if ownerID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "owner_id required"})
		return
	}

	var f wallet.Filter
	if t := c.Query("type"); t != "" {
		f.Types = []wallet.TxType{wallet.TxType(t)}
	}
	if s := c.Query("status"); s != "" {
		f.Statuses = []wallet.TxStatus{wallet.TxStatus(s)}
	}
	f.OrderID = c.Query("order_id")
	var limit struct {
		Limit int `form:"limit"`
	}
	if err := c.ShouldBindQuery(&limit); err == nil {
		f.Limit = limit.Limit
	}

	rows, err := h.Wallet.ListTransactions(c.Request.Context(), ownerID, f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": rows})
}

// --- Orders ---

type createOrderRequest struct {
	ShopperID       string       `json:"shopper_id"`
	MediatorID      string       `json:"mediator_id"`
	CampaignID      string       `json:"campaign_id,omitempty"`
	Items           []order.Item `json:"items,omitempty"`
	CommissionPaise int64        `json:"commission_paise"`
	CashbackPaise   int64        `json:"cashback_paise"`
}

func (h Handlers) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	o, err := h.Orders.Create(c.Request.Context(), order.CreateParams{
		ShopperID:       req.ShopperID,
		MediatorID:      req.MediatorID,
		CampaignID:      req.CampaignID,
		Items:           req.Items,
		CommissionPaise: req.CommissionPaise,
		CashbackPaise:   req.CashbackPaise,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (h Handlers) GetOrder(c *gin.Context) {
	o, err := h.Orders.Get(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

type transitionRequest struct {
	Event    string         `json:"event"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (h Handlers) TransitionOrder(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Event == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "event required"})
		return
	}

	actor := order.Actor{}
	if id, err := auth.IdentityFrom(c.Request.Context()); err == nil {
		actor.ID = id.AccountID.String()
		if len(id.Roles) > 0 {
			actor.Role = id.Roles[0]
		}
	}

	o, err := h.Orders.Transition(c.Request.Context(), c.Param("order_id"), order.EventType(req.Event), actor, req.Metadata)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h Handlers) ArchiveOrder(c *gin.Context) {
	if err := h.Orders.Archive(c.Request.Context(), c.Param("order_id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Replication admin ---

type resyncRequest struct {
	EntityType   string    `json:"entity_type"`
	UpdatedSince time.Time `json:"updated_since"`
	Limit        int       `json:"limit,omitempty"`
}

// ResyncAfterBulkUpdate re-applies shadow writers after a bulk primary
// mutation that bypassed the per-row hooks.
func (h Handlers) ResyncAfterBulkUpdate(c *gin.Context) {
	var req resyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.EntityType == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "entity_type required"})
		return
	}
	if req.Limit <= 0 {
		req.Limit = h.ResyncLimit
	}
	report, err := h.Reconciler.ResyncAfterBulkUpdate(c.Request.Context(),
		req.EntityType, replicator.ResyncFilter{UpdatedSince: req.UpdatedSince}, req.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
