// main package for the hntm-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/hntm-service/internal/config"
	"github.com/book-expert/hntm-service/internal/objectstore"
	"github.com/book-expert/hntm-service/internal/repository"
	"github.com/book-expert/hntm-service/internal/worker"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
)

const (
	serviceName          = "hntm-service"
	bootstrapLogFileName = "hntm-service-bootstrap.log"
	logFileName          = "hntm-service.log"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFileName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() {
		closeErr := bootstrapLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing bootstrap logger: %v\n", closeErr)
		}
	}()

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

// serve connects to NATS, binds the object store buckets and runs the worker
// until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name(serviceName))
	if err != nil {
		log.Error("Failed to connect to NATS at %s: %v", cfg.NATS.URL, err)

		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	modelStore, err := objectstore.New(jetstreamContext, cfg.NATS.ModelBucket)
	if err != nil {
		log.Error("Failed to open model bucket: %v", err)

		return err
	}

	framesStore, err := objectstore.New(jetstreamContext, cfg.NATS.FramesBucket)
	if err != nil {
		log.Error("Failed to open frames bucket: %v", err)

		return err
	}

	noiseModel, err := cfg.NoiseModel()
	if err != nil {
		return err
	}

	natsWorker, err := worker.NewNatsWorker(
		natsConnection,
		worker.Subjects{Scoring: cfg.NATS.ScoringSubject, Frames: cfg.NATS.FramesSubject},
		worker.Analysis{NoiseModel: noiseModel, SampleRate: cfg.Analysis.SampleRate},
		repository.New(modelStore),
		repository.New(framesStore),
		log,
	)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	log.System("HNTM-Service successfully initialized. Scoring on %s, frames on %s (noise model %s, %d Hz).",
		cfg.NATS.ScoringSubject, cfg.NATS.FramesSubject, noiseModel, cfg.Analysis.SampleRate)

	err = natsWorker.Run(ctx)
	if err != nil {
		log.Error("Worker stopped with error: %v", err)

		return fmt.Errorf("worker failed: %w", err)
	}

	log.System("HNTM-Service shut down.")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
