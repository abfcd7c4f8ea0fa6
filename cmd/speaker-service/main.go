// main package for the speaker-service
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/book-expert/speaker-service/internal/api"
	"github.com/book-expert/speaker-service/internal/catalog"
	"github.com/book-expert/speaker-service/internal/config"
	"github.com/book-expert/speaker-service/internal/core"
	"github.com/book-expert/speaker-service/internal/health"
	"github.com/book-expert/speaker-service/internal/ingest"
	"github.com/book-expert/speaker-service/internal/mqttlink"
	"github.com/book-expert/speaker-service/internal/notify"
	"github.com/book-expert/speaker-service/internal/objectstore"
	"github.com/book-expert/speaker-service/internal/observe"
	"github.com/book-expert/speaker-service/internal/transcode"
	"github.com/book-expert/speaker-service/internal/tts"
	"github.com/book-expert/speaker-service/internal/tts/text"
	"github.com/book-expert/speaker-service/internal/worker"
)

const (
	serviceName       = "speaker-service"
	workerQueueGroup  = "speaker-service"
	maxSpeechRunes    = 2000
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

var version = "dev"

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func loadConfig(path string, log *logger.Logger) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}

	return config.Load(log)
}

func run() error {
	configPath := flag.String("config", "", "path to a TOML config file (defaults to the central configurator)")
	flag.Parse()

	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), serviceName+"-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	// 2. Load configuration
	cfg, err := loadConfig(*configPath, bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 3. Initialize the final logger based on the loaded configuration
	log, err := setupLogger(cfg.Paths.BaseLogsDir, serviceName+".log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Telemetry
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialise telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		shutdownErr := shutdownTelemetry(shutdownCtx)
		if shutdownErr != nil {
			log.Warn("Telemetry shutdown failed: %v", shutdownErr)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	transcoder := transcode.New(cfg.Transcoder.BinaryPath, log)
	synthesizer, synthesizerChecks := newSynthesizer(cfg)

	checkers := []health.Checker{
		health.WritableDirCheck("temp_dir", cfg.Server.TempDir),
		{Name: "transcoder", Check: transcoder.Check},
	}
	checkers = append(checkers, synthesizerChecks...)

	// 5. NATS: object store backend, artifact events, text-to-audio worker
	var natsConnection *nats.Conn

	if cfg.NATS.URL != "" {
		natsConnection, err = nats.Connect(cfg.NATS.URL, nats.Name(serviceName))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		defer natsConnection.Close()

		checkers = append(checkers, health.ConnectionCheck("nats", natsConnection.IsConnected))
		log.Info("Connected to NATS at %s", cfg.NATS.URL)
	}

	store, media, err := openStore(cfg, natsConnection)
	if err != nil {
		return err
	}

	if cfg.Storage.Backend == config.BackendLocal {
		checkers = append(checkers, health.WritableDirCheck("uploads_dir", cfg.Storage.UploadsDir))
	}

	pipelineOpts := ingest.Options{
		Store:          store,
		Transcoder:     transcoder,
		Synthesizer:    synthesizer,
		Normalizer:     text.NewNormalizer(maxSpeechRunes),
		Metrics:        metrics,
		Logger:         log,
		TempDir:        cfg.Server.TempDir,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Profile:        core.SpeakerProfile,
	}

	if natsConnection != nil {
		publisher, pubErr := notify.NewPublisher(natsConnection, cfg.NATS.ArtifactCreatedSubject, "", log)
		if pubErr != nil {
			return fmt.Errorf("failed to create artifact publisher: %w", pubErr)
		}

		pipelineOpts.Notifier = publisher
	}

	pipeline, err := ingest.New(pipelineOpts)
	if err != nil {
		return fmt.Errorf("failed to create ingestion pipeline: %w", err)
	}

	// 6. MQTT command link
	apiOpts := api.Options{
		Ingester:       pipeline,
		Catalog:        catalog.New(store, metrics),
		Media:          media,
		Logger:         log,
		StaticPrefix:   cfg.Storage.StaticPrefix,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}

	if cfg.Storage.Backend == config.BackendLocal {
		apiOpts.UploadsDir = cfg.Storage.UploadsDir
	}

	if cfg.MQTT.Broker != "" {
		client, mqttErr := mqttlink.Connect(mqttlink.ClientConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, log)
		if mqttErr != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", mqttErr)
		}
		defer mqttlink.Disconnect(client)

		apiOpts.Commander = mqttlink.NewPublisher(client, cfg.MQTT.CommandTopicFor, log)
		checkers = append(checkers, health.ConnectionCheck("mqtt", client.IsConnected))
	}

	var natsWorker *worker.NatsWorker

	if natsConnection != nil {
		natsWorker, err = worker.NewNatsWorker(natsConnection, cfg.NATS.TextToAudioSubject, workerQueueGroup, pipeline, log)
		if err != nil {
			return fmt.Errorf("failed to create NATS worker: %w", err)
		}
	}

	// 7. HTTP surface
	apiServer := api.New(apiOpts)
	mux := http.NewServeMux()
	apiServer.Register(mux)
	health.New(checkers...).Register(mux)
	mux.Handle("GET "+cfg.Telemetry.MetricsPath, promhttp.Handler())

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics, log)(apiServer.Handler(mux)),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return serveHTTP(groupCtx, httpServer, log)
	})

	if natsWorker != nil {
		group.Go(func() error {
			return natsWorker.Run(groupCtx)
		})
	}

	log.System("Speaker service %s listening on %s (storage: %s, tts: %s)",
		version, cfg.Server.ListenAddr, cfg.Storage.Backend, cfg.TTS.Provider)

	err = group.Wait()
	if err != nil {
		log.Error("Speaker service stopped with error: %v", err)

		return err
	}

	log.System("Speaker service stopped")

	return nil
}

// openStore builds the configured artifact backend. media is non-nil only for
// backends that are served through /media/.
func openStore(cfg *config.Config, natsConnection *nats.Conn) (core.ArtifactStore, core.MediaOpener, error) {
	if cfg.Storage.Backend == config.BackendNATS {
		jetStream, err := natsConnection.JetStream()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get JetStream context: %w", err)
		}

		store, err := objectstore.New(jetStream, cfg.NATS.ObjectStoreBucket, cfg.Storage.Folder, cfg.Server.PublicBaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open object store: %w", err)
		}

		return store, store, nil
	}

	store, err := objectstore.NewLocal(cfg.Storage.UploadsDir, cfg.Server.PublicBaseURL, cfg.Storage.StaticPrefix)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open uploads directory: %w", err)
	}

	return store, nil, nil
}

// newSynthesizer builds the configured synthesizer and the readiness checks
// of the service behind it.
func newSynthesizer(cfg *config.Config) (core.Synthesizer, []health.Checker) {
	if cfg.TTS.Provider == config.ProviderHTTP {
		client := tts.NewHTTPClient(cfg.TTS.ServiceURL, tts.HTTPClientOptions{
			Language:    cfg.TTS.Language,
			Voice:       cfg.TTS.Voice,
			Temperature: cfg.TTS.Temperature,
			Timeout:     cfg.TTSTimeout(),
		})

		return client, []health.Checker{{Name: "tts", Check: client.HealthCheck}}
	}

	voice := cfg.TTS.Voice
	if voice == "" {
		voice = cfg.TTS.Language
	}

	return tts.NewGoogleSynthesizer(voice, cfg.TTSTimeout()), nil
}

func serveHTTP(ctx context.Context, server *http.Server, log *logger.Logger) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server on %s", server.Addr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return server.Shutdown(shutdownCtx)
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
