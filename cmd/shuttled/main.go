package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"shuttle-fleet-backend/config"
	"shuttle-fleet-backend/internal/api"
	"shuttle-fleet-backend/internal/broadcast"
	"shuttle-fleet-backend/internal/db"
	"shuttle-fleet-backend/internal/fleet"
	"shuttle-fleet-backend/internal/notification"
	"shuttle-fleet-backend/internal/provisioner"
	"shuttle-fleet-backend/internal/store"
	"shuttle-fleet-backend/internal/writeback"
)

func main() {
	app := &cli.App{
		Name:  "shuttled",
		Usage: "campus shuttle fleet state service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "./config/config.yaml",
				Usage:   "path to the yaml configuration file",
				EnvVars: []string{"CONFIG_PATH"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "serve the fleet API and event stream",
				Action: run,
			},
			{
				Name:   "migrate",
				Usage:  "create or update the database schema and exit",
				Action: migrate,
			},
		},
		DefaultCommand: "run",
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", path, err)
	}
	setupLogger(cfg.Log)
	log.Info().Str("path", path).Msg("configuration loaded")
	return cfg, nil
}

func setupLogger(cfg config.LogConfig) {
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Level).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	log.Logger = log.Logger.Level(level)
	if level > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
}

func migrate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	_, err = db.Init(&cfg.Database)
	return err
}

// drain stops accepting requests and waits for in-flight ones, then
// persists whatever they committed. Open streams only end once their
// subscriptions are closed, so the bus goes first.
func drain(ctx context.Context, server *http.Server, bus *broadcast.Bus, writer *writeback.Writer) error {
	bus.Close()

	shutdownErr := server.Shutdown(ctx)
	if shutdownErr != nil {
		shutdownErr = fmt.Errorf("HTTP server Shutdown: %w", shutdownErr)
	}
	if err := writer.Flush(ctx); err != nil {
		log.Error().Err(err).Int("pending", writer.Pending()).Msg("final write-back flush failed")
		return errors.Join(shutdownErr, fmt.Errorf("final write-back flush: %w", err))
	}
	return shutdownErr
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		log.Warn().Msg("VAPID keys are not configured, seat notifications will fail to send")
	}
	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	appStore := store.NewGormStore(gormDB)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := broadcast.NewBus(broadcast.NewRegistry(cfg.Broadcast.SubscriberBuffer))
	writer := writeback.New(appStore, cfg.Writeback.FlushInterval)
	pool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, &webpushOptions)

	engine := fleet.NewEngine(
		fleet.NewStateStore(fleet.WithAcquireTimeout(cfg.Fleet.AcquireTimeout)),
		bus, writer, pool,
	)

	// The fleet must be restored before the first request is served.
	prov := provisioner.New(appStore, engine, cfg.Provisioner.Interval)
	restored, err := prov.SyncOnce(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore vehicles: %w", err)
	}
	log.Info().Int("vehicles", restored).Msg("fleet restored")

	router := api.NewRouter(api.Dependencies{
		Engine:          engine,
		Bus:             bus,
		Store:           appStore,
		WebPush:         &webpushOptions,
		Heartbeat:       cfg.Broadcast.HeartbeatInterval,
		DefaultCapacity: cfg.Fleet.DefaultCapacity,
	}, cfg.Server)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	pool.Start(gctx)

	g.Go(func() error { return writer.Run(gctx) })
	if cfg.Provisioner.Enabled {
		g.Go(func() error { return prov.Run(gctx) })
	}
	g.Go(func() error {
		log.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server ListenAndServe: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutdown signal received, stopping services")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return drain(shutdownCtx, server, bus, writer)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server gracefully stopped")
	return nil
}
