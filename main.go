package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/zlnvch/doodleup/api"
	"github.com/zlnvch/doodleup/cache/redis"
	"github.com/zlnvch/doodleup/config"
	"github.com/zlnvch/doodleup/logging"
	"github.com/zlnvch/doodleup/mq/sqsmq"
	"github.com/zlnvch/doodleup/store/dynamo"
	"golang.org/x/oauth2"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if errors.Is(err, pflag.ErrHelp) {
		fmt.Fprint(os.Stdout, config.Usage())
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx := context.Background()

	doodleStore, err := dynamo.NewDynamoDoodleStore(ctx, cfg.DevMode, cfg.DynamoDBEndpoint, cfg.DynamoDBTable)
	if err != nil {
		return fmt.Errorf("failed to create dynamodb store: %w", err)
	}

	purgeStrokesQueue, err := sqsmq.NewSQSMessageQueue(ctx, cfg.DevMode, cfg.SQSEndpoint, cfg.PurgeQueue)
	if err != nil {
		return fmt.Errorf("failed to create SQS MQ: %w", err)
	}

	doodleCache, err := redis.NewRedisDoodleCache(ctx, cfg.DevMode, cfg.RedisEndpoint)
	if err != nil {
		return fmt.Errorf("failed to create redis cache: %w", err)
	}
	defer doodleCache.Close()

	shutdownCtx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	doodleAPI, err := api.NewDoodleAPI(cfg, doodleStore, purgeStrokesQueue, doodleCache, oauthConfigs(cfg), shutdownCtx)
	if err != nil {
		return fmt.Errorf("failed to create doodleup api: %w", err)
	}

	server := &http.Server{
		Addr:    ":" + cfg.HostPort,
		Handler: doodleAPI.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "port", cfg.HostPort, "dev", cfg.DevMode)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			stop()
			doodleAPI.Wait()
			return err
		}
	case <-shutdownCtx.Done():
	}

	slog.Info("server shutting down")
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		slog.Error("http shutdown", "err", err)
	}

	// Batchers flush what they still hold
	doodleAPI.Wait()
	return nil
}

// oauthConfigs includes only the providers that have a client id set.
func oauthConfigs(cfg *config.Config) map[string]*oauth2.Config {
	configs := make(map[string]*oauth2.Config)
	if cfg.GithubClientID != "" {
		configs["github"] = &oauth2.Config{
			ClientID:     cfg.GithubClientID,
			ClientSecret: cfg.GithubClientSecret,
			RedirectURL:  cfg.OAuthRedirectURL,
		}
	}
	if cfg.GoogleClientID != "" {
		configs["google"] = &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.OAuthRedirectURL,
		}
	}
	return configs
}
