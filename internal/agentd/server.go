package agentd

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/solstice-ai/warden/internal/config"
	"github.com/solstice-ai/warden/internal/health"
	"github.com/solstice-ai/warden/internal/store"
)

const (
	historyTurns      = 10
	defaultMaxTokens  = 1000
	chatRateLimit     = 30
	chatRateWindow    = time.Minute
	maintenanceEvery  = 5 * time.Minute
	storeRetention    = 30 * 24 * time.Hour
	shutdownGraceTime = 10 * time.Second
)

type Server struct {
	cfg       config.Config
	db        *store.DB
	llm       ChatClient
	limiter   *rateLimiter
	resources health.ResourceReader
	startedAt time.Time
}

func NewServer(cfg config.Config, db *store.DB, llm ChatClient) *Server {
	return &Server{
		cfg:       cfg,
		db:        db,
		llm:       llm,
		limiter:   newRateLimiter(chatRateLimit, chatRateWindow),
		resources: health.GopsutilReader{},
		startedAt: time.Now(),
	}
}

// SetResources overrides the metric source; used by tests.
func (s *Server) SetResources(r health.ResourceReader) { s.resources = r }

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.recordUsage)

	router.GET("/health", s.handleHealth)
	router.POST("/chat", s.rateLimit, s.handleChat)
	router.GET("/sessions/:id", s.handleSession)
	router.GET("/sessions/:id/history", s.handleHistory)
	router.GET("/admin/stats", s.handleStats)
	return router
}

// recordUsage logs every request into the api_usage table after the
// handler finishes. A write failure is logged, never surfaced to the
// client.
func (s *Server) recordUsage(c *gin.Context) {
	started := time.Now()
	c.Next()

	endpoint := c.FullPath()
	if endpoint == "" {
		endpoint = c.Request.URL.Path
	}
	err := s.db.RecordAPIUsage(&store.APIUsage{
		Timestamp:    started,
		Endpoint:     endpoint,
		Method:       c.Request.Method,
		StatusCode:   c.Writer.Status(),
		ResponseTime: time.Since(started).Seconds(),
		UserIP:       c.ClientIP(),
	})
	if err != nil {
		log.Printf("usage: record request: %v", err)
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}

	errs := make(chan error, 1)
	go func() { errs <- srv.ListenAndServe() }()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGraceTime)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// RunMaintenance samples system metrics into the datastore and prunes rows
// past retention, on a fixed cadence.
func (s *Server) RunMaintenance(ctx context.Context) {
	ticker := time.NewTicker(maintenanceEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collectMetrics()
			s.limiter.sweep()
			if err := s.db.CleanupOld(storeRetention); err != nil {
				log.Printf("maintenance: cleanup failed: %v", err)
			}
		}
	}
}

func (s *Server) collectMetrics() {
	cpu, cpuErr := s.resources.CPUPercent()
	mem, memErr := s.resources.MemoryPercent()
	disk, diskErr := s.resources.DiskPercent(s.cfg.ProjectRoot)
	if cpuErr != nil || memErr != nil || diskErr != nil {
		log.Printf("maintenance: metric sampling incomplete: cpu=%v mem=%v disk=%v", cpuErr, memErr, diskErr)
	}

	status := "healthy"
	if cpu > s.cfg.CPUThreshold || mem > s.cfg.MemThreshold || disk > s.cfg.DiskThreshold {
		status = "degraded"
	}
	err := s.db.InsertMetrics(&store.Metrics{
		Timestamp:     time.Now(),
		CPUPercent:    cpu,
		MemoryPercent: mem,
		DiskPercent:   disk,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		HealthStatus:  status,
	})
	if err != nil {
		log.Printf("maintenance: record metrics: %v", err)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	dbStatus := "connected"
	httpStatus := http.StatusOK
	if err := s.db.Ping(); err != nil {
		dbStatus = "unavailable"
		httpStatus = http.StatusServiceUnavailable
	}

	cpu, _ := s.resources.CPUPercent()
	mem, _ := s.resources.MemoryPercent()
	disk, _ := s.resources.DiskPercent(s.cfg.ProjectRoot)

	status := "healthy"
	if httpStatus != http.StatusOK {
		status = "unhealthy"
	}
	c.JSON(httpStatus, gin.H{
		"status":         status,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"database":       dbStatus,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"cpu_percent":    cpu,
		"memory_percent": mem,
		"disk_percent":   disk,
	})
}

func (s *Server) rateLimit(c *gin.Context) {
	if !s.limiter.Allow(c.ClientIP()) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": "rate limit exceeded, retry later",
		})
		return
	}
	c.Next()
}

type chatRequest struct {
	Message   string `json:"message" binding:"required,min=1,max=4000"`
	SessionID string `json:"session_id" binding:"omitempty,uuid"`
	Model     string `json:"model" binding:"omitempty,max=100"`
	MaxTokens int    `json:"max_tokens" binding:"omitempty,gte=10,lte=4000"`
}

type chatResponse struct {
	SessionID      string  `json:"session_id"`
	Response       string  `json:"response"`
	TokensUsed     int     `json:"tokens_used"`
	ProcessingTime float64 `json:"processing_time"`
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	history, err := s.db.SessionHistory(sessionID, historyTurns)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session history"})
		return
	}

	model := req.Model
	if model == "" {
		model = s.cfg.LLMModel
	}

	started := time.Now()
	reply, tokens, err := s.llm.Complete(c.Request.Context(), history, req.Message, model, maxTokens)
	elapsed := time.Since(started).Seconds()

	turn := &store.Conversation{
		SessionID:      sessionID,
		Timestamp:      time.Now(),
		UserMessage:    req.Message,
		ProcessingTime: elapsed,
		ModelUsed:      model,
		UserIP:         c.ClientIP(),
		UserAgent:      c.Request.UserAgent(),
	}
	if err != nil {
		turn.Success = false
		turn.ErrorMessage = err.Error()
		turn.ErrorType = "provider_error"
		turn.AssistantResponse = ""
		if logErr := s.db.LogConversation(turn); logErr != nil {
			log.Printf("chat: record failed turn: %v", logErr)
		}
		logErr := s.db.LogError(&store.ErrorLog{
			Timestamp:    time.Now(),
			ErrorType:    "provider_error",
			ErrorMessage: err.Error(),
			Endpoint:     "/chat",
			SessionID:    sessionID,
		})
		if logErr != nil {
			log.Printf("chat: record error: %v", logErr)
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "completion provider request failed"})
		return
	}

	turn.Success = true
	turn.AssistantResponse = reply
	turn.TokensUsed = tokens
	if err := s.db.LogConversation(turn); err != nil {
		log.Printf("chat: record turn: %v", err)
	}
	if err := s.db.TouchSession(sessionID, c.ClientIP(), c.Request.UserAgent(), tokens, elapsed); err != nil {
		log.Printf("chat: update session: %v", err)
	}

	c.JSON(http.StatusOK, chatResponse{
		SessionID:      sessionID,
		Response:       reply,
		TokensUsed:     tokens,
		ProcessingTime: elapsed,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.db.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleSession(c *gin.Context) {
	session, err := s.db.GetSession(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) handleHistory(c *gin.Context) {
	history, err := s.db.SessionHistory(c.Param("id"), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session history"})
		return
	}
	if history == nil {
		history = []store.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": c.Param("id"),
		"turns":      history,
	})
}
