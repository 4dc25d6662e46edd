package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/eventhub/config"
	"example.com/eventhub/internal/database"
	"example.com/eventhub/internal/gateway"
	"example.com/eventhub/internal/messaging"
	"example.com/eventhub/internal/metrics"
	"example.com/eventhub/internal/services"
	"example.com/eventhub/internal/tracing"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker to deliver ticket confirmations, sweep ended events and reconcile stuck payments`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	// Create an error group to manage goroutines
	g, ctx := errgroup.WithContext(ctx)

	// Initialize database connections
	db, readOnlyDB, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	// Initialize metrics
	metricsCollector := metrics.NewMetrics()

	// Initialize the payment gateway client
	paystackClient := gateway.NewPaystackClient(cfg.Paystack)

	// Initialize services
	eventService := services.NewEventService(db, readOnlyDB, nil, nil, metricsCollector, tracer)
	paymentService := services.NewPaymentService(db, readOnlyDB, paystackClient, nil, metricsCollector, tracer, cfg.Paystack)

	// Consume ticket confirmations from the queue when a Service Bus
	// connection is configured
	var processor *messaging.Processor
	if cfg.ServiceBus.ConnectionString != "" {
		processor, err = messaging.NewProcessor(cfg.ServiceBus)
		if err != nil {
			return err
		}
	}
	if processor != nil {
		g.Go(func() error {
			log.Info().Msg("Starting ticket confirmation processor")
			return processor.ProcessMessages(ctx, func(ctx context.Context, message *azservicebus.ReceivedMessage) error {
				return handleConfirmation(message)
			})
		})
	}

	// Run the periodic jobs
	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		sweepInterval := cfg.Worker.SweepInterval
		if sweepInterval == 0 {
			sweepInterval = 10 * time.Minute
		}
		_, err = scheduler.NewJob(
			gocron.DurationJob(sweepInterval),
			gocron.NewTask(func() {
				completed, err := eventService.CompleteEndedEvents(ctx)
				if err != nil {
					log.Error().Err(err).Msg("Failed to sweep ended events")
					return
				}
				if completed > 0 {
					log.Info().Int64("completed", completed).Msg("Marked ended events completed")
				}
			}),
		)
		if err != nil {
			return err
		}

		reconcileInterval := cfg.Worker.ReconcileInterval
		if reconcileInterval == 0 {
			reconcileInterval = 5 * time.Minute
		}
		reconcileAge := cfg.Worker.ReconcileAge
		if reconcileAge == 0 {
			reconcileAge = 30 * time.Minute
		}
		reconcileBatch := cfg.Worker.ReconcileBatch
		if reconcileBatch == 0 {
			reconcileBatch = 100
		}
		_, err = scheduler.NewJob(
			gocron.DurationJob(reconcileInterval),
			gocron.NewTask(func() {
				if _, err := paymentService.ReconcilePending(ctx, reconcileAge, reconcileBatch); err != nil {
					log.Error().Err(err).Msg("Failed to reconcile pending payments")
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()

		// Wait for context cancellation
		<-ctx.Done()

		return scheduler.Shutdown()
	})

	// Wait for any goroutine to exit
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}

// handleConfirmation delivers one ticket confirmation. Delivery here
// is a log line; the email/rendering pipeline consumes the same queue
// downstream.
func handleConfirmation(message *azservicebus.ReceivedMessage) error {
	var confirmation messaging.TicketConfirmation
	if err := json.Unmarshal(message.Body, &confirmation); err != nil {
		log.Error().Err(err).Msg("Malformed confirmation message")
		// Do not retry a message that can never parse
		return nil
	}

	log.Info().
		Str("ticket_number", confirmation.TicketNumber).
		Str("event", confirmation.EventTitle).
		Str("user_email", confirmation.UserEmail).
		Msg("Ticket confirmation delivered")
	return nil
}
