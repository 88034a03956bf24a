package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/dto"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/journal"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/service"
	"github.com/prohmpiriya/ticket-ledger/pkg/logger"
	"github.com/prohmpiriya/ticket-ledger/pkg/middleware"
	"github.com/prohmpiriya/ticket-ledger/pkg/response"
	"github.com/prohmpiriya/ticket-ledger/pkg/telemetry"
)

// LedgerHandler handles ledger HTTP requests
type LedgerHandler struct {
	ledgerService service.LedgerService
	// signerLimiter throttles submissions per fee payer; nil disables it
	signerLimiter middleware.Limiter
}

// NewLedgerHandler creates a new LedgerHandler
func NewLedgerHandler(ledgerService service.LedgerService, signerLimiter middleware.Limiter) *LedgerHandler {
	return &LedgerHandler{
		ledgerService: ledgerService,
		signerLimiter: signerLimiter,
	}
}

// SubmitTransaction handles POST /transactions
func (h *LedgerHandler) SubmitTransaction(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.ledger.submit")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var req dto.SubmitTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		c.JSON(http.StatusBadRequest, response.BadRequest("Invalid request body"))
		return
	}
	if valid, msg := req.Validate(); !valid {
		span.SetStatus(codes.Error, msg)
		c.JSON(http.StatusBadRequest, response.BadRequest(msg))
		return
	}

	if h.signerLimiter != nil {
		allowed, err := h.signerLimiter.Allow(ctx, req.FeePayer())
		if err != nil {
			logger.WarnCtx(ctx, "signer rate limiter unavailable, allowing request",
				zap.String("fee_payer", req.FeePayer()), zap.Error(err))
			allowed = true
		}
		if !allowed {
			span.SetStatus(codes.Error, "rate limited")
			c.Header("Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, response.TooManyRequests("Too many transactions from this fee payer"))
			return
		}
	}

	tx, err := req.ToTransaction()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	span.SetAttributes(telemetry.TxIDAttr(tx.ID()))
	middleware.SetAuditResourceType(c, "transaction")
	middleware.SetAuditResourceID(c, tx.ID())

	receipt, err := h.ledgerService.Submit(ctx, tx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	middleware.SetAuditMetadata(c, map[string]interface{}{
		"sequence":     receipt.Sequence,
		"instructions": receipt.Instructions,
	})
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusCreated, response.Success(dto.ToReceiptResponse(receipt)))
}

// GetTransaction handles GET /transactions/:id
func (h *LedgerHandler) GetTransaction(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, response.BadRequest("ID is required"))
		return
	}

	receipt, err := h.ledgerService.GetReceipt(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrReceiptNotFound) {
			c.JSON(http.StatusNotFound, response.NotFound("Transaction not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, response.InternalError("Failed to get transaction"))
		return
	}

	c.JSON(http.StatusOK, response.Success(dto.ToReceiptResponse(receipt)))
}

// ListTransactions handles GET /transactions, paging through the journal by sequence
func (h *LedgerHandler) ListTransactions(c *gin.Context) {
	var req dto.ListReceiptsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest("Invalid query parameters"))
		return
	}
	if valid, msg := req.Validate(); !valid {
		c.JSON(http.StatusBadRequest, response.BadRequest(msg))
		return
	}

	limit := service.ReceiptPageSize(req.Limit)
	receipts, hasMore, err := h.ledgerService.ListReceipts(c.Request.Context(), req.After(), limit)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "list receipts failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, response.InternalError("Failed to list transactions"))
		return
	}

	data, meta := dto.ToReceiptPage(receipts, limit, hasMore)
	c.JSON(http.StatusOK, response.Page(data, meta))
}

// GetAccount handles GET /accounts/:address
func (h *LedgerHandler) GetAccount(c *gin.Context) {
	addr, err := domain.ParseAddress(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest("Invalid address"))
		return
	}

	acc, err := h.ledgerService.GetAccount(c.Request.Context(), addr)
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, response.NotFound("Account not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, response.InternalError("Failed to get account"))
		return
	}

	c.JSON(http.StatusOK, response.Success(dto.ToAccountResponse(acc)))
}

// Derive handles GET /derive/:kind
func (h *LedgerHandler) Derive(c *gin.Context) {
	var req dto.DeriveRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest("Invalid query parameters"))
		return
	}
	req.Kind = c.Param("kind")
	if valid, msg := req.Validate(); !valid {
		c.JSON(http.StatusBadRequest, response.BadRequest(msg))
		return
	}

	deriver := h.ledgerService.Deriver()
	derived, err := req.Derive(deriver)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(&dto.DeriveResponse{
		Kind:      req.Kind,
		Address:   derived.Address,
		Bump:      derived.Bump,
		ProgramID: deriver.ProgramID(),
	}))
}

// Airdrop handles POST /airdrop (operator only)
func (h *LedgerHandler) Airdrop(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.ledger.airdrop")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	operator, ok := middleware.GetSubject(c)
	if !ok || operator == "" {
		span.SetStatus(codes.Error, "unauthorized")
		c.JSON(http.StatusUnauthorized, response.Unauthorized("Subject not found in token"))
		return
	}

	var req dto.AirdropRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		c.JSON(http.StatusBadRequest, response.BadRequest("Invalid request body"))
		return
	}
	if valid, msg := req.Validate(); !valid {
		span.SetStatus(codes.Error, msg)
		c.JSON(http.StatusBadRequest, response.BadRequest(msg))
		return
	}

	to, err := domain.ParseAddress(req.Address)
	if err != nil {
		span.SetStatus(codes.Error, "invalid address")
		c.JSON(http.StatusBadRequest, response.BadRequest("Invalid address"))
		return
	}

	span.SetAttributes(
		telemetry.AccountAttr(to.String()),
		attribute.Int64("lamports", int64(req.Lamports)),
	)
	middleware.SetAuditResourceType(c, "airdrop")
	middleware.SetAuditResourceID(c, to.String())

	receipt, err := h.ledgerService.Airdrop(ctx, to, req.Lamports, operator)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	middleware.SetAuditMetadata(c, map[string]interface{}{
		"lamports": req.Lamports,
		"receipt":  receipt.ID,
	})
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusCreated, response.Success(dto.ToReceiptResponse(receipt)))
}

// VerifyJournal handles GET /journal/verify
func (h *LedgerHandler) VerifyJournal(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.ledger.verify_journal")
	defer span.End()

	result, err := h.ledgerService.VerifyJournal(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, journal.ErrChainBroken) {
			c.JSON(http.StatusInternalServerError, &response.Response{
				Success: false,
				Data: &dto.JournalVerifyResponse{
					Valid:   false,
					Entries: result.Entries,
					Head:    result.Head.String(),
					Error:   err.Error(),
				},
				Error: &response.ErrorInfo{Code: response.ErrCodeJournalCorrupt, Message: "Journal hash chain is broken"},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, response.InternalError("Failed to verify journal"))
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, response.Success(&dto.JournalVerifyResponse{
		Valid:   true,
		Entries: result.Entries,
		Head:    result.Head.String(),
	}))
}

// Health handles GET /health
func (h *LedgerHandler) Health(c *gin.Context) {
	seq, head := h.ledgerService.Head()
	if err := h.ledgerService.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, response.ServiceUnavailable("Storage unavailable"))
		return
	}

	c.JSON(http.StatusOK, response.Success(&dto.HealthResponse{
		Status:   "healthy",
		Sequence: seq,
		Head:     head.String(),
	}))
}

// handleError converts ledger errors to HTTP responses
func (h *LedgerHandler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrOperatorRequired):
		c.JSON(http.StatusUnauthorized, response.Unauthorized(err.Error()))
		return
	case errors.Is(err, service.ErrAirdropAmount), errors.Is(err, service.ErrAirdropTarget):
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
		return
	}

	lerr, ok := domain.AsLedgerError(err)
	if !ok {
		logger.ErrorCtx(c.Request.Context(), "ledger request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, response.InternalError("Failed to process transaction"))
		return
	}

	index := -1
	var execErr *service.ExecutionError
	if errors.As(err, &execErr) {
		index = execErr.Index
	}

	code := rejectionCode(lerr)
	c.JSON(response.GetHTTPStatus(code), response.LedgerRejection(code, lerr.Code, lerr.Name, err.Error(), index))
}

// rejectionCode maps a ledger error to its API error code
func rejectionCode(lerr *domain.LedgerError) string {
	if lerr.Kind == domain.ErrorKindProgram {
		return response.ErrCodeProgramError
	}
	switch lerr {
	case domain.ErrMissingSignature, domain.ErrInvalidSignature:
		return response.ErrCodeSignatureRejected
	case domain.ErrDuplicateTransaction:
		return response.ErrCodeDuplicateTransaction
	case domain.ErrAccountNotFound:
		return response.ErrCodeAccountNotFound
	case domain.ErrArithmeticOverflow:
		return response.ErrCodeProgramError
	default:
		return response.ErrCodeInvalidTransaction
	}
}
