// Package ops serves the operator API: order admission, runtime status,
// reserve snapshot, recent trades, the manual trading halt, and gasless
// custody pause/unpause.
package ops

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantex/arbiter/internal/domain"
	"github.com/quantex/arbiter/internal/journal"
	"github.com/quantex/arbiter/internal/reserve"
	"github.com/quantex/arbiter/internal/risk"
)

// OrderProcessor runs one admitted order to its terminal result.
type OrderProcessor interface {
	Process(ctx context.Context, order domain.TradeOrder) domain.TradeResult
}

// CustodyPauser flips the custody contract through the delegated relay.
type CustodyPauser interface {
	Pause(ctx context.Context) (string, error)
	Unpause(ctx context.Context) (string, error)
}

// Options lists the collaborators the server exposes. Monitor, Journal and
// Custody may be nil; their endpoints then answer 404.
type Options struct {
	Engine  OrderProcessor
	Breaker *risk.CircuitBreaker
	Monitor *reserve.Monitor
	Journal *journal.Journal
	Custody CustodyPauser
	Mode    string
}

// Server exposes the ops endpoints over HTTP.
type Server struct {
	opts    Options
	started time.Time
	log     *logrus.Entry
}

// New builds an ops server.
func New(opts Options) *Server {
	return &Server{
		opts:    opts,
		started: time.Now(),
		log:     logrus.WithField("component", "ops"),
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.POST("/orders", s.handleOrderSubmit)
	api.GET("/status", s.handleStatus)
	api.GET("/reserve", s.handleReserve)
	api.GET("/trades", s.handleTrades)
	api.POST("/halt", s.handleHalt)
	api.POST("/resume", s.handleResume)
	api.POST("/custody/pause", s.handleCustodyPause)
	api.POST("/custody/unpause", s.handleCustodyUnpause)

	return r
}

// StartAsync serves the router without blocking and shuts down on ctx cancel.
func (s *Server) StartAsync(ctx context.Context, addr string) (*http.Server, error) {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("ops server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return srv, nil
}

// orderRequest is the admission wire format.
type orderRequest struct {
	AssetIn      string  `json:"asset_in" binding:"required"`
	AssetOut     string  `json:"asset_out" binding:"required"`
	AmountIn     string  `json:"amount_in" binding:"required"`
	MinAmountOut string  `json:"min_amount_out"`
	DeadlineSec  int64   `json:"deadline_sec"` // seconds from now, default 60
	SlippagePct  float64 `json:"slippage_pct"`
}

func (s *Server) handleOrderSubmit(c *gin.Context) {
	if s.opts.Engine == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order admission disabled"})
		return
	}
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amountIn, err := decimal.NewFromString(req.AmountIn)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount_in: " + err.Error()})
		return
	}
	minOut := decimal.Zero
	if req.MinAmountOut != "" {
		if minOut, err = decimal.NewFromString(req.MinAmountOut); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "min_amount_out: " + err.Error()})
			return
		}
	}
	if req.DeadlineSec <= 0 {
		req.DeadlineSec = 60
	}

	order := domain.NewTradeOrder(req.AssetIn, req.AssetOut, amountIn, minOut,
		time.Now().Add(time.Duration(req.DeadlineSec)*time.Second))
	order.SlippagePct = decimal.NewFromFloat(req.SlippagePct)

	result := s.opts.Engine.Process(c.Request.Context(), order)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{
		"order_id":   result.OrderID,
		"success":    result.Success,
		"price":      result.Price.String(),
		"amount_out": result.AmountOut.String(),
		"gas_used":   result.GasUsed,
		"tx_hash":    result.TxHash,
		"error":      result.Error,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"mode":       s.opts.Mode,
		"halted":     s.opts.Breaker.Halted(),
		"uptime_sec": int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleReserve(c *gin.Context) {
	if s.opts.Monitor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "reserve monitor disabled"})
		return
	}
	status, ok := s.opts.Monitor.Latest()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no reserve check has completed yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"locked":     status.Locked.String(),
		"claims":     status.Claims.String(),
		"healthy":    status.Healthy,
		"ratio":      status.Ratio.String(),
		"checked_at": status.CheckedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.opts.Journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "trade journal disabled"})
		return
	}
	entries, err := s.opts.Journal.Recent(c.Request.Context(), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		out = append(out, gin.H{
			"order_id":   e.OrderID,
			"pair":       e.Pair,
			"amount_in":  e.AmountIn.String(),
			"amount_out": e.AmountOut.String(),
			"price":      e.Price.String(),
			"success":    e.Success,
			"gas_used":   e.GasUsed,
			"tx_hash":    e.TxHash,
			"error":      e.Error,
			"closed_at":  e.ClosedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"trades": out})
}

func (s *Server) handleHalt(c *gin.Context) {
	s.opts.Breaker.Halt()
	s.log.Warn("trading halted by operator")
	c.JSON(http.StatusOK, gin.H{"halted": true})
}

func (s *Server) handleResume(c *gin.Context) {
	s.opts.Breaker.Resume()
	s.log.Info("trading resumed by operator")
	c.JSON(http.StatusOK, gin.H{"halted": false})
}

func (s *Server) handleCustodyPause(c *gin.Context) {
	if s.opts.Custody == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "custody control disabled"})
		return
	}
	txHash, err := s.opts.Custody.Pause(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	s.log.Warnf("custody pause relayed: %s", txHash)
	c.JSON(http.StatusOK, gin.H{"tx_hash": txHash})
}

func (s *Server) handleCustodyUnpause(c *gin.Context) {
	if s.opts.Custody == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "custody control disabled"})
		return
	}
	txHash, err := s.opts.Custody.Unpause(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tx_hash": txHash})
}
