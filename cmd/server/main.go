package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coty-crg/CorgiSceneViewChat/internal/metrics"
	"github.com/coty-crg/CorgiSceneViewChat/internal/relayserver"
	"github.com/joho/godotenv"
	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func loadConfig() (relayserver.Config, error) {
	// .env is optional, real environment wins
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return relayserver.Config{}, fmt.Errorf("could not load .env: %w", err)
	}
	return relayserver.LoadConfig("scenechat_server")
}

func configureLogger() *log.Logger {
	logger := log.DefaultLogger

	// https://github.com/phuslu/log?tab=readme-ov-file#pretty-console-writer
	logger.Caller = 1
	logger.TimeFormat = "15:04:05"
	logger.Writer = &log.ConsoleWriter{
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}

	return &logger
}

func serveMetrics(ctx context.Context, logger *log.Logger, addr string, reg *prometheus.Registry) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Msgf("serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func erringMain() error {
	config, err := loadConfig()
	if err != nil {
		return fmt.Errorf("could not process config: %w", err)
	}

	logger := configureLogger()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	relayServer, err := relayserver.NewRelayServer(config, logger, relayserver.WithMetrics(metrics.NewServer(reg)))
	if err != nil {
		return fmt.Errorf("could not construct relay server: %w", err)
	}
	logger.Info().Msgf("started relay server on %s", relayServer.Addr())

	wg := new(sync.WaitGroup)
	ctx, cancel := context.WithCancel(context.Background())

	wg.Add(1)
	var relayServerRunErr error
	go func() {
		defer wg.Done()
		relayServerRunErr = relayServer.Run(ctx)
	}()

	var metricsErr error
	if config.MetricsAddress != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metricsErr = serveMetrics(ctx, logger, config.MetricsAddress, reg)
		}()
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-signalChan
	logger.Info().Msgf("received %+v signal", sig)

	cancel()
	wg.Wait()
	if relayServerRunErr != nil {
		return fmt.Errorf("relay server run failed: %w", relayServerRunErr)
	}
	if metricsErr != nil {
		return fmt.Errorf("metrics server failed: %w", metricsErr)
	}

	return nil
}

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "fucky wucky! %v\n", err)
		os.Exit(42)
	}
}
