package api

import (
	"context"
	"net/http"
	"time"

	"example.com/eventhub/config"
	"example.com/eventhub/internal/api/handlers"
	"example.com/eventhub/internal/metrics"
	"example.com/eventhub/internal/services"
	"example.com/eventhub/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Server represents the HTTP server
type Server struct {
	config         config.Config
	router         *gin.Engine
	httpServer     *http.Server
	eventService   *services.EventService
	ticketService  *services.TicketService
	paymentService *services.PaymentService
	userService    *services.UserService
	metrics        *metrics.Metrics
	tracer         tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.Config,
	eventService *services.EventService,
	ticketService *services.TicketService,
	paymentService *services.PaymentService,
	userService *services.UserService,
	collector *metrics.Metrics,
	tracer tracing.Tracer,
) *Server {
	server := &Server{
		config:         cfg,
		eventService:   eventService,
		ticketService:  ticketService,
		paymentService: paymentService,
		userService:    userService,
		metrics:        collector,
		tracer:         tracer,
	}

	router := server.setupRouter()
	server.router = router

	timeout := cfg.ServerTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	httpServer := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	server.httpServer = httpServer

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handlers.RequestLogger())

	if app := s.tracer.Application(); app != nil {
		router.Use(nrgin.Middleware(app))
	}

	router.Use(handlers.Identity(s.userService))

	public := router.Group("/api")
	private := router.Group("/api")
	private.Use(handlers.RequireUser())

	eventHandler := handlers.NewEventHandler(s.eventService, s.tracer)
	eventHandler.RegisterRoutes(public, private)

	ticketHandler := handlers.NewTicketHandler(s.ticketService, s.tracer)
	ticketHandler.RegisterRoutes(private)

	paymentHandler := handlers.NewPaymentHandler(s.paymentService, s.tracer)
	paymentHandler.RegisterRoutes(public, private)

	userHandler := handlers.NewUserHandler(s.userService, s.tracer)
	userHandler.RegisterRoutes(private)

	metricsHandler := handlers.NewMetricsHandler(s.metrics, s.tracer)
	router.GET("/metrics", metricsHandler.HandleGetMetrics)
	router.GET("/health", metricsHandler.HandleGetHealthCheck)

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
