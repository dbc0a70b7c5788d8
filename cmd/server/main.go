// Command server runs the parking allocation API.
//
//	server                           start the HTTP server (default)
//	server migrate                   apply the MySQL schema and exit
//	server token -sub ID -role ROLE  print an access token for an operator
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/iliyamo/parking-lot-allocation/internal/config"
	"github.com/iliyamo/parking-lot-allocation/internal/database"
	"github.com/iliyamo/parking-lot-allocation/internal/handler"
	"github.com/iliyamo/parking-lot-allocation/internal/lock"
	"github.com/iliyamo/parking-lot-allocation/internal/logging"
	"github.com/iliyamo/parking-lot-allocation/internal/middleware"
	"github.com/iliyamo/parking-lot-allocation/internal/parking"
	"github.com/iliyamo/parking-lot-allocation/internal/queue"
	"github.com/iliyamo/parking-lot-allocation/internal/repository"
	"github.com/iliyamo/parking-lot-allocation/internal/router"
	"github.com/iliyamo/parking-lot-allocation/internal/service"
	"github.com/iliyamo/parking-lot-allocation/internal/telemetry"
	"github.com/iliyamo/parking-lot-allocation/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logging.Init(cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "serve":
		err = serve(ctx, cfg)
	case "migrate":
		err = migrate(ctx, cfg)
	case "token":
		err = token(cfg, os.Args[2:])
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		logging.Logger().Fatal().Err(err).Str("command", cmd).Msg("exiting")
	}
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	return database.Open(ctx, database.Options{
		User: cfg.DBUser,
		Pass: cfg.DBPass,
		Host: cfg.DBHost,
		Port: cfg.DBPort,
		Name: cfg.DBName,
	})
}

func migrate(ctx context.Context, cfg config.Config) error {
	if cfg.StoreDriver != config.StoreMySQL {
		return errors.New("migrate requires STORE_DRIVER=mysql")
	}
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return err
	}
	logging.Info(ctx).Msg("schema applied")
	return nil
}

func token(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	sub := fs.String("sub", "", "operator id (required)")
	role := fs.String("role", middleware.RoleOperator, "OPERATOR or ADMIN")
	ttl := fs.Duration("ttl", time.Duration(cfg.AccessTTLMin)*time.Minute, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *role != middleware.RoleOperator && *role != middleware.RoleAdmin {
		return fmt.Errorf("invalid role %q", *role)
	}
	tok, err := utils.NewAccessToken(cfg.JWTSecret, *sub, *role, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok.Token)
	return nil
}

// storeBundle groups the store with what provisioning and health checks
// need from it.
type storeBundle struct {
	store       parking.Store
	provisioner repository.Provisioner
	checks      map[string]handler.Pinger
	close       func()
}

func openStore(ctx context.Context, cfg config.Config) (storeBundle, error) {
	if cfg.StoreDriver == config.StoreMemory {
		s := repository.NewMemoryStore()
		return storeBundle{store: s, provisioner: s, checks: map[string]handler.Pinger{}, close: func() {}}, nil
	}
	db, err := openDB(ctx, cfg)
	if err != nil {
		return storeBundle{}, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return storeBundle{}, err
	}
	s := repository.NewMySQLStore(db)
	return storeBundle{
		store:       s,
		provisioner: s,
		checks:      map[string]handler.Pinger{"mysql": db},
		close:       func() { _ = db.Close() },
	}, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	tp, err := telemetry.NewProvider(ctx, telemetry.Options{
		Enabled:     cfg.OTelEnabled,
		ServiceName: cfg.OTelServiceName,
		Endpoint:    cfg.OTelEndpoint,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(sctx)
	}()

	sb, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer sb.close()

	if cfg.FleetFile != "" {
		fleet, err := config.LoadFleet(cfg.FleetFile)
		if err != nil {
			return err
		}
		if err := config.Provision(ctx, sb.provisioner, fleet); err != nil {
			return err
		}
		logging.Info(ctx).
			Int("lots", len(fleet.Lots)).
			Int("attendants", len(fleet.Attendants)).
			Int("coordinators", len(fleet.Coordinators)).
			Msg("fleet provisioned")
	}

	rdb := config.NewRedisClient(ctx)
	if rdb != nil {
		defer rdb.Close()
		sb.checks["redis"] = handler.PingerFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	} else {
		logging.Warn(ctx).Msg("redis unavailable: rate limiting and vehicle locks disabled")
	}

	opts := []parking.Option{parking.WithSinks(parking.LogSink{})}
	if cfg.VehicleLockEnabled {
		if rdb == nil {
			return errors.New("VEHICLE_LOCK_ENABLED requires redis")
		}
		opts = append(opts, parking.WithLocker(lock.NewRedisLocker(rdb, cfg.VehicleLockTTL, "vehicle-lock")))
	}
	if cfg.RabbitMQURL != "" {
		pub := service.NewPublisher(cfg.RabbitMQURL)
		defer pub.Close()
		opts = append(opts, parking.WithSinks(pub))

		consumer := queue.NewNotificationConsumer(cfg.RabbitMQURL, cfg.NotificationLog)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Error(ctx).Err(err).Msg("notification consumer stopped")
			}
		}()
	}

	alloc := parking.NewAllocator(sb.store, opts...)
	instrumented, err := parking.NewInstrumentedAllocator(alloc, tp.Tracer(), tp.Meter())
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		telemetry.NewFleetCollector(alloc),
	)

	metricsMW, err := middleware.Metrics(tp.Meter())
	if err != nil {
		return err
	}

	e := router.New(router.Deps{
		ServiceName: cfg.OTelServiceName,
		JWTSecret:   cfg.JWTSecret,
		RateLimit:   config.LoadRateLimitConfig(),
		Redis:       rdb,
		Metrics:     metricsMW,
		Gatherer:    reg,
		Parking:     handler.NewParkingHandler(instrumented),
		Health:      &handler.HealthHandler{Checks: sb.checks},
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logging.Info(ctx).Str("addr", addr).Str("env", cfg.Env).Str("store", cfg.StoreDriver).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(sctx)
}
