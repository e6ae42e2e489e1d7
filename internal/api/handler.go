package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"papertrade-core/internal/authz"
	"papertrade-core/internal/engine"
	"papertrade-core/internal/events"
	"papertrade-core/internal/market"
	"papertrade-core/internal/monitor"
	"papertrade-core/internal/portfolio"
	"papertrade-core/internal/reconciliation"
	"papertrade-core/pkg/db"
)

// Server wires HTTP endpoints around the engine and the event bus.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	DB        *db.Database
	Engine    *engine.Engine
	Groups    *authz.Groups
	Portfolio *portfolio.Service
	Simulator *market.Simulator
	Metrics   *monitor.SystemMetrics
	Recon     *reconciliation.Service
	JWTSecret string
	Meta      SystemMeta
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	SimEnabled   bool
	Tickers      []string
	StartingCash float64
	Version      string
}

// NewServer builds the router with the full middleware stack and routes.
func NewServer(
	bus *events.Bus,
	database *db.Database,
	eng *engine.Engine,
	groups *authz.Groups,
	pf *portfolio.Service,
	sim *market.Simulator,
	metrics *monitor.SystemMetrics,
	recon *reconciliation.Service,
	meta SystemMeta,
	jwtSecret string,
) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Bus:       bus,
		DB:        database,
		Engine:    eng,
		Groups:    groups,
		Portfolio: pf,
		Simulator: sim,
		Metrics:   metrics,
		Recon:     recon,
		JWTSecret: jwtSecret,
		Meta:      meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		// Auth endpoints (no auth required)
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/accounts", s.listAccounts)
			protected.POST("/accounts", s.createAccount)
			protected.GET("/accounts/:id/portfolio", s.getPortfolio)
			protected.GET("/accounts/:id/transactions", s.listTransactions)
			protected.GET("/accounts/:id/transactions/export", s.exportTransactions)
			protected.GET("/accounts/:id/limits", s.getLimits)
			protected.PUT("/accounts/:id/limits", s.updateLimits)

			protected.POST("/orders", s.createOrder)
			protected.GET("/orders", s.listOrders)
			protected.GET("/orders/:id", s.getOrder)
			protected.POST("/orders/:id/approve", s.approveOrder)
			protected.POST("/orders/:id/reject", s.rejectOrder)
			protected.POST("/orders/:id/cancel", s.cancelOrder)
			protected.POST("/orders/:id/process", s.processOrder)
			protected.GET("/approvals", s.listApprovals)

			protected.GET("/market/tickers", s.listTickers)
			protected.GET("/market/tickers/:symbol/bars", s.listBars)
			protected.GET("/market/tickers/:symbol/quote", s.getQuote)
			protected.POST("/market/tickers/:symbol/simulate", s.simulateBar)

			protected.GET("/leaderboard", s.getLeaderboard)
			protected.GET("/recon/report", s.getReconReport)

			protected.POST("/groups", s.createGroup)
			protected.GET("/groups", s.listGroups)
			protected.GET("/groups/discover", s.discoverGroups)
			protected.GET("/groups/:id/members", s.listGroupMembers)
			protected.GET("/groups/:id/orders", s.listGroupOrders)
			protected.POST("/groups/:id/join", s.joinGroup)
			protected.POST("/groups/:id/leave", s.leaveGroup)
			protected.PUT("/groups/:id", s.renameGroup)
			protected.PUT("/groups/:id/members/:userID/role", s.setGroupRole)
			protected.DELETE("/groups/:id", s.deleteGroup)

			protected.GET("/watchlist", s.listWatchlist)
			protected.POST("/watchlist", s.addWatchlistItem)
			protected.DELETE("/watchlist/:symbol", s.removeWatchlistItem)

			protected.GET("/news", s.listNews)
			protected.POST("/news", s.postNews)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sim_enabled":   s.Meta.SimEnabled,
		"tickers":       s.Meta.Tickers,
		"starting_cash": s.Meta.StartingCash,
		"version":       s.Meta.Version,
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

// Start runs the HTTP server.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
