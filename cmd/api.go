package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/eventhub/config"
	"example.com/eventhub/internal/api"
	"example.com/eventhub/internal/cache"
	"example.com/eventhub/internal/database"
	"example.com/eventhub/internal/gateway"
	"example.com/eventhub/internal/messaging"
	"example.com/eventhub/internal/metrics"
	"example.com/eventhub/internal/search"
	"example.com/eventhub/internal/services"
	"example.com/eventhub/internal/tracing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server for events, tickets, payments and check-in`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// Configure logging
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Initialize database connections
	db, readOnlyDB, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}

	// Initialize cache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
	}

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	// Initialize Elasticsearch client
	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
	}

	// Initialize confirmation dispatcher
	dispatcher, err := messaging.NewDispatcher(cfg.ServiceBus)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	// Initialize metrics
	metricsCollector := metrics.NewMetrics()

	// Initialize the payment gateway client
	paystackClient := gateway.NewPaystackClient(cfg.Paystack)

	// Initialize services
	eventService := services.NewEventService(db, readOnlyDB, redisCache, elasticClient, metricsCollector, tracer)
	ticketService := services.NewTicketService(db, readOnlyDB, redisCache, metricsCollector, tracer)
	paymentService := services.NewPaymentService(db, readOnlyDB, paystackClient, dispatcher, metricsCollector, tracer, cfg.Paystack)
	userService := services.NewUserService(db, readOnlyDB, tracer)

	// Initialize and start the server
	server := api.NewServer(cfg, eventService, ticketService, paymentService, userService, metricsCollector, tracer)

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}
