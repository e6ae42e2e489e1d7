package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"papertrade-core/internal/authz"
	"papertrade-core/internal/engine"
	"papertrade-core/internal/portfolio"
	"papertrade-core/pkg/db"
)

type createOrderRequest struct {
	AccountID string  `json:"account_id" binding:"required,min=1"`
	Ticker    string  `json:"ticker" binding:"required,min=1"`
	Side      string  `json:"side" binding:"required,oneof=BUY SELL buy sell"`
	Kind      string  `json:"kind" binding:"required,oneof=MARKET LIMIT STOP market limit stop"`
	Qty       float64 `json:"qty" binding:"gt=0"`
	Price     float64 `json:"price"`
}

type rejectOrderRequest struct {
	Reason string `json:"reason"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondEngineError maps engine and storage errors onto HTTP statuses.
func respondEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrValidation), errors.Is(err, engine.ErrUnknownTicker):
		respondError(c, http.StatusBadRequest, "INVALID_ORDER", err.Error())
	case errors.Is(err, engine.ErrForbidden):
		respondError(c, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, engine.ErrInvalidState):
		respondError(c, http.StatusConflict, "INVALID_STATE", err.Error())
	case errors.Is(err, db.ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "resource not found")
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func parseLimit(c *gin.Context, def, max int) int {
	limit := def
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

// requireAccountRole resolves the caller's role on an account, writing the
// HTTP error itself when access is denied.
func (s *Server) requireAccountRole(c *gin.Context, accountID string) (string, bool) {
	userID := CurrentUserID(c)
	role, err := s.DB.AccountRole(c.Request.Context(), accountID, userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return "", false
	}
	if role == "" {
		respondError(c, http.StatusForbidden, "FORBIDDEN", "not a member of this account")
		return "", false
	}
	return role, true
}

// listAccounts returns every account the caller can trade on.
func (s *Server) listAccounts(c *gin.Context) {
	accounts, err := s.DB.ListAccountsByUser(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	out := make([]gin.H, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, gin.H{
			"account_id":    a.ID,
			"account_type":  a.AccountType,
			"name":          a.Name,
			"starting_cash": a.StartingCash,
			"role":          a.Role,
		})
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out})
}

// createAccount provisions an extra individual account owned by the caller.
func (s *Server) createAccount(c *gin.Context) {
	var req struct {
		Name         string  `json:"name" binding:"required,min=1"`
		StartingCash float64 `json:"starting_cash"`
	}
	if err := c.BindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	if req.StartingCash < 0 {
		respondError(c, http.StatusBadRequest, "INVALID_CASH", "starting_cash must not be negative")
		return
	}
	if req.StartingCash == 0 {
		req.StartingCash = s.Meta.StartingCash
	}

	ctx := c.Request.Context()
	account := db.Account{
		ID:           uuid.NewString(),
		AccountType:  "individual",
		Name:         strings.TrimSpace(req.Name),
		StartingCash: req.StartingCash,
	}
	if err := s.DB.CreateAccount(ctx, account); err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if err := s.DB.AddAccountMember(ctx, account.ID, CurrentUserID(c), authz.RoleOwner); err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"account_id":    account.ID,
		"starting_cash": account.StartingCash,
	})
}

// getPortfolio marks the account to market: cash, positions, PnL.
func (s *Server) getPortfolio(c *gin.Context) {
	accountID := c.Param("id")
	if _, ok := s.requireAccountRole(c, accountID); !ok {
		return
	}
	v, err := s.Portfolio.Valuation(c.Request.Context(), accountID)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// listTransactions returns the account's ledger, oldest first.
func (s *Server) listTransactions(c *gin.Context) {
	accountID := c.Param("id")
	if _, ok := s.requireAccountRole(c, accountID); !ok {
		return
	}
	txs, err := s.DB.ListTransactionsByAccount(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// getLimits returns the account's risk limit settings.
func (s *Server) getLimits(c *gin.Context) {
	accountID := c.Param("id")
	if _, ok := s.requireAccountRole(c, accountID); !ok {
		return
	}
	account, err := s.DB.GetAccount(c.Request.Context(), accountID)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"max_order_notional":   account.MaxOrderNotional,
		"max_position_abs_qty": account.MaxPositionAbsQty,
		"earnings_lockout":     account.EarningsLockout,
	})
}

// updateLimits sets the account's risk limit columns; owners only.
func (s *Server) updateLimits(c *gin.Context) {
	accountID := c.Param("id")
	role, ok := s.requireAccountRole(c, accountID)
	if !ok {
		return
	}
	if role != authz.RoleOwner {
		respondError(c, http.StatusForbidden, "FORBIDDEN", "only owners may change limits")
		return
	}

	var req struct {
		MaxOrderNotional  *float64 `json:"max_order_notional"`
		MaxPositionAbsQty *float64 `json:"max_position_abs_qty"`
		EarningsLockout   bool     `json:"earnings_lockout"`
	}
	if err := c.BindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	if req.MaxOrderNotional != nil && *req.MaxOrderNotional <= 0 {
		respondError(c, http.StatusBadRequest, "INVALID_LIMIT", "max_order_notional must be positive")
		return
	}
	if req.MaxPositionAbsQty != nil && *req.MaxPositionAbsQty <= 0 {
		respondError(c, http.StatusBadRequest, "INVALID_LIMIT", "max_position_abs_qty must be positive")
		return
	}

	err := s.DB.UpdateRiskLimits(c.Request.Context(), accountID, req.MaxOrderNotional, req.MaxPositionAbsQty, req.EarningsLockout)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// createOrder submits an order through the engine.
func (s *Server) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.BindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}

	order, err := s.Engine.Submit(c.Request.Context(), engine.SubmitRequest{
		UserID:     CurrentUserID(c),
		AccountID:  req.AccountID,
		Ticker:     req.Ticker,
		Side:       req.Side,
		Kind:       req.Kind,
		Qty:        req.Qty,
		LimitPrice: req.Price,
	})
	if err != nil {
		respondEngineError(c, err)
		return
	}
	if s.Metrics != nil {
		s.Metrics.IncrementOrders()
	}
	c.JSON(http.StatusCreated, order)
}

// listOrders returns orders on one of the caller's accounts.
func (s *Server) listOrders(c *gin.Context) {
	accountID := c.Query("account_id")
	if accountID == "" {
		respondError(c, http.StatusBadRequest, "MISSING_ACCOUNT", "account_id query parameter is required")
		return
	}
	if _, ok := s.requireAccountRole(c, accountID); !ok {
		return
	}
	openOnly := c.Query("open") == "true"
	limit := parseLimit(c, 100, 500)

	orders, err := s.DB.ListOrdersByAccount(c.Request.Context(), accountID, openOnly, limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) getOrder(c *gin.Context) {
	order, err := s.DB.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	if _, ok := s.requireAccountRole(c, order.AccountID); !ok {
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) approveOrder(c *gin.Context) {
	order, err := s.Engine.Approve(c.Request.Context(), c.Param("id"), CurrentUserID(c))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) rejectOrder(c *gin.Context) {
	var req rejectOrderRequest
	if err := c.BindJSON(&req); err != nil && err.Error() != "EOF" {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	order, err := s.Engine.Reject(c.Request.Context(), c.Param("id"), CurrentUserID(c), req.Reason)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) cancelOrder(c *gin.Context) {
	order, err := s.Engine.Cancel(c.Request.Context(), c.Param("id"), CurrentUserID(c))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// processOrder forces one evaluation of a working limit or stop order.
func (s *Server) processOrder(c *gin.Context) {
	order, err := s.Engine.Process(c.Request.Context(), c.Param("id"), CurrentUserID(c))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// listApprovals returns the pending orders the caller may act on.
func (s *Server) listApprovals(c *gin.Context) {
	orders, err := s.DB.ListPendingApprovalsForUser(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// listTickers returns the instrument universe, optionally filtered.
func (s *Server) listTickers(c *gin.Context) {
	limit := parseLimit(c, 100, 500)
	tickers, err := s.DB.ListTickers(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickers": tickers})
}

// listBars returns recent bars for charting, ascending in time.
func (s *Server) listBars(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	limit := parseLimit(c, 200, 1000)
	bars, err := s.Simulator.History(c.Request.Context(), symbol, limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticker": symbol, "bars": bars})
}

// getQuote returns the latest close for a ticker.
func (s *Server) getQuote(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	price, err := s.Simulator.Latest(c.Request.Context(), symbol)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ticker": symbol,
		"price":  portfolio.Round2(price),
	})
}

// simulateBar advances a ticker's price walk by one bar on demand.
func (s *Server) simulateBar(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	if _, err := s.DB.GetTicker(c.Request.Context(), symbol); err != nil {
		respondEngineError(c, err)
		return
	}
	bar, err := s.Simulator.Advance(c.Request.Context(), symbol, 0)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if s.Metrics != nil {
		s.Metrics.IncrementBars()
	}
	c.JSON(http.StatusCreated, bar)
}

// getLeaderboard ranks accounts by PnL, top N only.
func (s *Server) getLeaderboard(c *gin.Context) {
	limit := parseLimit(c, 10, 100)
	entries, err := s.Portfolio.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}

// getReconReport returns the latest reconciliation pass.
func (s *Server) getReconReport(c *gin.Context) {
	report := s.Recon.LastReport()
	if report == nil {
		c.JSON(http.StatusOK, gin.H{"report": nil, "passes": s.Recon.Passes()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report, "passes": s.Recon.Passes()})
}
