// Package server exposes the HTTP API: inbox operations, client
// rollups, the intelligence surface (snapshot, moves, gates), and
// Prometheus metrics. Local single-operator service; binds loopback by
// default.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	cache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"agencyos/internal/domain"
	"agencyos/internal/logging"
	"agencyos/internal/queue"
	"agencyos/internal/snapshot"
	"agencyos/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Options configures the server.
type Options struct {
	Addr              string
	CORSOrigins       []string
	IntelligenceToken string
	CacheTTL          time.Duration
	Version           string

	Store  *store.Store
	Queue  *queue.Engine
	Writer *snapshot.Writer
	Logger *zap.Logger
}

// Server wraps http.Server with the gin router and the snapshot cache.
type Server struct {
	http   *http.Server
	cache  *cache.Cache
	writer *snapshot.Writer
	store  *store.Store
	queue  *queue.Engine
	token  string
	ttl    time.Duration

	version string
	logger  *zap.Logger
}

// New builds the server and its routes.
func New(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:7800"
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 15 * time.Second
	}
	s := &Server{
		cache:   cache.New(opts.CacheTTL, time.Minute),
		writer:  opts.Writer,
		store:   opts.Store,
		queue:   opts.Queue,
		token:   opts.IntelligenceToken,
		ttl:     opts.CacheTTL,
		version: opts.Version,
		logger:  logging.OrNop(opts.Logger).Named("server"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(s.requestLogger(), gin.Recovery())
	if len(opts.CORSOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = opts.CORSOrigins
		corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
		router.Use(cors.New(corsCfg))
	}

	router.GET("/api/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v2 := router.Group("/api/v2")
	v2.GET("/inbox", s.listInbox)
	v2.POST("/inbox/:id/action", s.inboxAction)
	v2.GET("/clients", s.listClients)
	v2.GET("/clients/:id", s.getClient)
	v2.POST("/moves/:id/decision", s.decideMove)

	intel := v2.Group("/intelligence", s.bearerAuth())
	intel.GET("/snapshot", s.intelligenceSnapshot)
	intel.GET("/moves", s.intelligenceMoves)
	intel.GET("/gates", s.intelligenceGates)

	s.http = &http.Server{Addr: opts.Addr, Handler: router}
	return s
}

// Start serves until the listener closes. Blocks.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// InvalidateCache drops cached responses; wired to cycle completion.
func (s *Server) InvalidateCache(*snapshot.Document) {
	s.cache.Flush()
}

// requestLogger is the zap-backed access log.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(started)))
	}
}

// bearerAuth guards the intelligence surface when a token is set.
func (s *Server) bearerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.token == "" {
			c.Next()
			return
		}
		if c.GetHeader("Authorization") != "Bearer "+s.token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{"status": "ok", "version": s.version}
	last, err := s.store.LatestCycle(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if last != nil {
		resp["cycle_number"] = last.CycleNumber
		if last.Success && last.FinishedAt != nil {
			resp["last_success_at"] = last.FinishedAt
		}
		if !last.Success {
			resp["status"] = "degraded"
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listInbox(c *gin.Context) {
	filter := store.QueueFilter{Now: time.Now().UTC()}
	if et := c.Query("entity_type"); et != "" {
		filter.EntityType = domain.EntityType(et)
	}
	items, err := s.store.ListQueueItems(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

type inboxActionRequest struct {
	Action string `json:"action" binding:"required"`
	By     string `json:"by"`
	Note   string `json:"note"`
}

func (s *Server) inboxAction(c *gin.Context) {
	var id int64
	if err := parseID(c.Param("id"), &id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad item id"})
		return
	}
	var req inboxActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	by := req.By
	if by == "" {
		by = "operator"
	}

	now := time.Now().UTC()
	ctx := c.Request.Context()
	var err error
	switch req.Action {
	case "accept":
		err = s.queue.Accept(ctx, id, by, now)
	case "snooze":
		err = s.queue.Snooze(ctx, id, now)
	case "dismiss":
		err = s.queue.Dismiss(ctx, id, by, now)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be accept, snooze, or dismiss"})
		return
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown item"})
	case errors.Is(err, store.ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": "already resolved"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func (s *Server) listClients(c *gin.Context) {
	clients, err := s.store.ListClients(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"clients": clients, "count": len(clients)})
}

func (s *Server) getClient(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	client, err := s.store.GetClient(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown client"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	projects, err := s.store.ListProjects(ctx, store.ProjectFilter{ClientID: id})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	invoices, err := s.store.ListInvoices(ctx, store.InvoiceFilter{ClientID: id})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	comms, err := s.store.ListCommunications(ctx, store.CommFilter{ClientID: id, Limit: 20})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"client":         client,
		"projects":       projects,
		"invoices":       invoices,
		"communications": comms,
	})
}

type moveDecisionRequest struct {
	Decision string `json:"decision" binding:"required"`
	By       string `json:"by"`
}

func (s *Server) decideMove(c *gin.Context) {
	var req moveDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var status domain.ActionStatus
	switch req.Decision {
	case "approve":
		status = domain.ActionApproved
	case "dismiss":
		status = domain.ActionDismissed
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "decision must be approve or dismiss"})
		return
	}
	by := req.By
	if by == "" {
		by = "operator"
	}

	err := s.store.DecideAction(c.Request.Context(), c.Param("id"), status, by, time.Now().UTC())
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown move"})
	case errors.Is(err, store.ErrAlreadyDecided):
		c.JSON(http.StatusConflict, gin.H{"error": "already decided"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func (s *Server) intelligenceSnapshot(c *gin.Context) {
	const key = "snapshot"
	if doc, ok := s.cache.Get(key); ok {
		c.JSON(http.StatusOK, doc)
		return
	}
	doc, err := s.writer.ReadCurrent()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot yet"})
		return
	}
	s.cache.Set(key, doc, s.ttl)
	c.JSON(http.StatusOK, doc)
}

func (s *Server) intelligenceMoves(c *gin.Context) {
	actions, err := s.store.ListActions(c.Request.Context(),
		store.ActionFilter{Status: domain.ActionPending})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"moves": actions, "count": len(actions)})
}

func (s *Server) intelligenceGates(c *gin.Context) {
	report, cycle, err := s.store.LatestGateReport(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if report == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no gate report yet"})
		return
	}
	c.Data(http.StatusOK, "application/json",
		[]byte(`{"cycle_number":`+strconv.FormatInt(cycle, 10)+`,"report":`+report+`}`))
}

func parseID(s string, out *int64) error {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*out = n
	return nil
}
