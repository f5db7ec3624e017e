package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
	domainerr "github.com/starpay-service/starpay_service/internal/domain/errors"
	"github.com/starpay-service/starpay_service/internal/domain/services/deposits"
	"github.com/starpay-service/starpay_service/pkg/logger"
)

// DepositHandlers exposes the deposit intent lifecycle
type DepositHandlers struct {
	service   *deposits.Service
	validator *validator.Validate
	logger    *logger.Logger
}

// NewDepositHandlers creates a new DepositHandlers instance
func NewDepositHandlers(service *deposits.Service, logger *logger.Logger) *DepositHandlers {
	return &DepositHandlers{
		service:   service,
		validator: validator.New(),
		logger:    logger,
	}
}

type createIntentRequest struct {
	UserID           string `json:"user_id" validate:"required,uuid"`
	Chain            string `json:"chain" validate:"required"`
	Token            string `json:"token" validate:"required"`
	CustodialAddress string `json:"custodial_address" validate:"required"`
	ExpectedAmount   string `json:"expected_amount" validate:"required"`
	CouponID         string `json:"coupon_id" validate:"omitempty,uuid"`
}

// Create handles POST /api/v1/deposits
func (h *DepositHandlers) Create(c *gin.Context) {
	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "INVALID_REQUEST", "Invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		respondBadRequest(c, "VALIDATION_FAILED", err.Error())
		return
	}

	amount, err := decimal.NewFromString(req.ExpectedAmount)
	if err != nil {
		respondBadRequest(c, "INVALID_AMOUNT", "expected_amount is not a valid decimal")
		return
	}

	input := deposits.CreateIntentInput{
		UserID:           uuid.MustParse(req.UserID),
		Chain:            entities.Chain(strings.ToLower(req.Chain)),
		Token:            entities.Token(strings.ToUpper(req.Token)),
		CustodialAddress: req.CustodialAddress,
		ExpectedAmount:   amount,
	}
	if req.CouponID != "" {
		couponID := uuid.MustParse(req.CouponID)
		input.CouponID = &couponID
	}

	deposit, err := h.service.CreateIntent(c.Request.Context(), input)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	respondCreated(c, deposit)
}

type submitRequest struct {
	TxHash string `json:"tx_hash"`
}

// Submit handles POST /api/v1/deposits/:id/submit
func (h *DepositHandlers) Submit(c *gin.Context) {
	id, ok := h.depositID(c)
	if !ok {
		return
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "INVALID_REQUEST", "Invalid request body")
		return
	}

	deposit, err := h.service.Submit(c.Request.Context(), id, req.TxHash)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	respondSuccess(c, deposit)
}

type resolveRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

// Resolve handles POST /api/v1/deposits/:id/resolve, binding an UNMATCHED
// deposit to a user.
func (h *DepositHandlers) Resolve(c *gin.Context) {
	id, ok := h.depositID(c)
	if !ok {
		return
	}

	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		respondBadRequest(c, "VALIDATION_FAILED", err.Error())
		return
	}

	deposit, err := h.service.Resolve(c.Request.Context(), id, uuid.MustParse(req.UserID))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	respondSuccess(c, deposit)
}

// Get handles GET /api/v1/deposits/:id
func (h *DepositHandlers) Get(c *gin.Context) {
	id, ok := h.depositID(c)
	if !ok {
		return
	}

	deposit, entries, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	respondSuccess(c, gin.H{"deposit": deposit, "ledger": entries})
}

func (h *DepositHandlers) depositID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "INVALID_ID", "deposit id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *DepositHandlers) respondServiceError(c *gin.Context, err error) {
	if strings.Contains(err.Error(), "not found") {
		respondNotFound(c, "Deposit not found")
		return
	}

	switch domainerr.KindOf(err) {
	case domainerr.KindUserInput:
		respondBadRequest(c, "INVALID_INPUT", err.Error())
	default:
		h.logger.Error("Deposit operation failed", "error", err)
		respondInternalError(c, "Deposit operation failed")
	}
}
