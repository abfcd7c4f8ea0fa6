// main package for the speaker-device runtime
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/book-expert/speaker-service/internal/config"
	"github.com/book-expert/speaker-service/internal/device"
	"github.com/book-expert/speaker-service/internal/health"
	"github.com/book-expert/speaker-service/internal/mqttlink"
	"github.com/book-expert/speaker-service/internal/observe"
	"github.com/book-expert/speaker-service/internal/playback"
)

const (
	serviceName       = "speaker-device"
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

var version = "dev"

func run() error {
	configPath := flag.String("config", "", "path to a TOML config file (defaults to the central configurator)")
	flag.Parse()

	bootstrapLog, err := logger.New(os.TempDir(), serviceName+"-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	var cfg *config.Config
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load(bootstrapLog)
	}

	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.Paths.BaseLogsDir, serviceName+".log")
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

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    serviceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialise telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = shutdownTelemetry(shutdownCtx)
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	var amplifier playback.Amplifier = playback.NopAmplifier{}
	if cfg.Device.AmplifierGPIOPath != "" {
		amplifier = playback.NewGPIOAmplifier(cfg.Device.AmplifierGPIOPath)
	}

	var sink io.Writer = io.Discard

	if cfg.Device.PCMOutputPath != "" {
		fileSink := playback.NewFileSink(cfg.Device.PCMOutputPath)
		defer fileSink.Close()

		sink = fileSink
	}

	controller, err := playback.NewController(playback.Options{
		Opener:     playback.NewHTTPOpener(sink, cfg.Device.ChunkBytes),
		Amplifier:  amplifier,
		GraceDelay: cfg.Device.GraceDelay(),
		Logger:     log,
		Metrics:    metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create playback controller: %w", err)
	}

	var (
		checkers []health.Checker
		link     *mqttlink.DeviceLink
	)

	if cfg.MQTT.Broker != "" {
		client, mqttErr := mqttlink.Connect(mqttlink.ClientConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: serviceName + "-" + cfg.Device.DeviceID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, log)
		if mqttErr != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", mqttErr)
		}
		defer mqttlink.Disconnect(client)

		link = mqttlink.NewDeviceLink(client,
			cfg.MQTT.CommandTopicFor(cfg.Device.DeviceID),
			cfg.MQTT.StateTopicFor(cfg.Device.DeviceID),
			controller, log)
		checkers = append(checkers, health.ConnectionCheck("mqtt", client.IsConnected))
	}

	mux := http.NewServeMux()
	device.New(controller, log).Register(mux)
	health.New(checkers...).Register(mux)
	mux.Handle("GET "+cfg.Telemetry.MetricsPath, promhttp.Handler())

	httpServer := &http.Server{
		Addr:              cfg.Device.ListenAddr,
		Handler:           observe.Middleware(metrics, nil)(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return controller.Run(groupCtx, cfg.Device.PollInterval())
	})

	group.Go(func() error {
		errCh := make(chan error, 1)

		go func() {
			errCh <- httpServer.ListenAndServe()
		}()

		select {
		case serveErr := <-errCh:
			if errors.Is(serveErr, http.ErrServerClosed) {
				return nil
			}

			return fmt.Errorf("http server failed: %w", serveErr)
		case <-groupCtx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return httpServer.Shutdown(shutdownCtx)
	})

	if link != nil {
		group.Go(func() error {
			return link.Run(groupCtx)
		})
	}

	log.System("Speaker device %s (%s) listening on %s", cfg.Device.DeviceID, version, cfg.Device.ListenAddr)

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Speaker device stopped with error: %v", err)

		return err
	}

	log.System("Speaker device stopped")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Device exited with error: %v\n", err)
		os.Exit(1)
	}
}
