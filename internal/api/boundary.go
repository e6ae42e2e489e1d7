package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"papertrade-core/pkg/db"
)

type watchlistRequest struct {
	Symbol string `json:"symbol" binding:"required,min=1"`
}

type newsRequest struct {
	Ticker   string `json:"ticker"`
	Headline string `json:"headline" binding:"required,min=1"`
	Body     string `json:"body"`
}

func (s *Server) listWatchlist(c *gin.Context) {
	items, err := s.DB.ListWatchlist(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	out := make([]gin.H, 0, len(items))
	for _, it := range items {
		entry := gin.H{"symbol": it.Symbol, "added_at": it.CreatedAt}
		if price, err := s.Simulator.Latest(c.Request.Context(), it.Symbol); err == nil {
			entry["last_price"] = price
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"watchlist": out})
}

func (s *Server) addWatchlistItem(c *gin.Context) {
	var req watchlistRequest
	if err := c.BindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if _, err := s.DB.GetTicker(c.Request.Context(), symbol); err != nil {
		respondError(c, http.StatusNotFound, "UNKNOWN_TICKER", fmt.Sprintf("unknown ticker %s", symbol))
		return
	}
	if err := s.DB.AddWatchlistItem(c.Request.Context(), CurrentUserID(c), symbol); err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"symbol": symbol})
}

func (s *Server) removeWatchlistItem(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	removed, err := s.DB.RemoveWatchlistItem(c.Request.Context(), CurrentUserID(c), symbol)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if !removed {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "symbol not on watchlist")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

// listNews returns recent headlines, optionally filtered by ticker.
func (s *Server) listNews(c *gin.Context) {
	limit := parseLimit(c, 50, 200)
	ticker := strings.ToUpper(c.Query("ticker"))
	items, err := s.DB.ListNews(c.Request.Context(), ticker, limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"news": items})
}

func (s *Server) postNews(c *gin.Context) {
	var req newsRequest
	if err := c.BindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	item := db.NewsItem{
		ID:       uuid.NewString(),
		Ticker:   strings.ToUpper(strings.TrimSpace(req.Ticker)),
		Headline: strings.TrimSpace(req.Headline),
		Body:     req.Body,
	}
	if item.Ticker != "" {
		if _, err := s.DB.GetTicker(c.Request.Context(), item.Ticker); err != nil {
			respondError(c, http.StatusNotFound, "UNKNOWN_TICKER", fmt.Sprintf("unknown ticker %s", item.Ticker))
			return
		}
	}
	if err := s.DB.InsertNews(c.Request.Context(), item); err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": item.ID})
}

// exportTransactions streams the account's ledger as CSV.
func (s *Server) exportTransactions(c *gin.Context) {
	accountID := c.Param("id")
	if _, ok := s.requireAccountRole(c, accountID); !ok {
		return
	}
	txs, err := s.DB.ListTransactionsByAccount(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=transactions-%s.csv", accountID))

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"id", "order_id", "ticker", "side", "qty", "price", "kind", "created_at"})
	for _, t := range txs {
		_ = w.Write([]string{
			t.ID,
			t.OrderID,
			t.Ticker,
			t.Side,
			strconv.FormatFloat(t.Qty, 'f', -1, 64),
			strconv.FormatFloat(t.Price, 'f', -1, 64),
			t.Kind,
			t.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	w.Flush()
}
