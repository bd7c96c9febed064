package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"pi42-grid/internal/engine"
	"pi42-grid/internal/events"
	"pi42-grid/internal/monitor"
	"pi42-grid/internal/state"
	"pi42-grid/pkg/cache"
	"pi42-grid/pkg/db"
)

// StatusProvider is the engine's read-only view.
type StatusProvider interface {
	SystemStatus() engine.SystemStatus
	InstrumentStatus(symbol string) (engine.InstrumentStatus, bool)
}

// SubmissionLister reads the audit trail.
type SubmissionLister interface {
	ListSubmissions(ctx context.Context, symbol string, limit int) ([]db.Submission, error)
}

// UsageReporter exposes outbound REST throttling counters.
type UsageReporter interface {
	Usage() (requests, throttled int, waited time.Duration)
}

// SystemMeta describes runtime settings exposed to operators.
type SystemMeta struct {
	DryRun      bool     `json:"dry_run"`
	Venue       string   `json:"venue"`
	Symbols     []string `json:"symbols"`
	SizingMode  string   `json:"sizing_mode"`
	TriggerMode string   `json:"trigger_mode"`
	Version     string   `json:"version"`
}

// Deps groups what the server reads from. Any field may be nil except
// Engine; the matching endpoints then answer 503.
type Deps struct {
	Engine      StatusProvider
	Store       *state.Store
	Prices      *cache.PriceTable
	Submissions SubmissionLister
	Metrics     *monitor.Metrics
	Bus         *events.Bus
	RESTUsage   UsageReporter
}

// Auth configures bearer-token auth. An empty JWTSecret disables it.
type Auth struct {
	JWTSecret string
	Username  string
	Password  string
	TokenTTL  time.Duration
}

// Server is the operator HTTP API.
type Server struct {
	Router *gin.Engine
	Deps
	Meta  SystemMeta
	auth  *authenticator
	log   logrus.FieldLogger
	http  *http.Server
	start time.Time
}

func NewServer(deps Deps, meta SystemMeta, auth Auth, logger logrus.FieldLogger) (*Server, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithField("component", "api")
	authn, err := newAuthenticator(auth)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	limiter := newIPLimiter(20, 50, 5*time.Minute)

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(RateLimitMiddleware(limiter, log))
	r.Use(CORSMiddleware())

	s := &Server{
		Router: r,
		Deps:   deps,
		Meta:   meta,
		auth:   authn,
		log:    log,
		http:   &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second},
		start:  time.Now(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	if s.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}
	s.Router.GET("/ws", s.auth.middleware(true), s.websocket)

	api := s.Router.Group("/api")
	{
		api.POST("/auth/login", s.login)

		protected := api.Group("")
		protected.Use(s.auth.middleware(false))
		{
			protected.GET("/status", s.getStatus)
			protected.GET("/status/:symbol", s.getInstrumentStatus)
			protected.GET("/positions", s.getPositions)
			protected.GET("/orders", s.getOrders)
			protected.GET("/prices", s.getPrices)
			protected.GET("/submissions", s.getSubmissions)
			protected.GET("/metrics", s.getMetrics)
			protected.GET("/system", s.getSystem)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	ready := false
	if s.Store != nil {
		ready = s.Store.Ready()
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "ready": ready})
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.http.Addr = addr
	s.log.WithField("addr", addr).Info("api listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
