package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/roomledger/internal/attempts"
	"github.com/MarkoPoloResearchLab/roomledger/internal/config"
	"github.com/MarkoPoloResearchLab/roomledger/internal/eventbus"
	"github.com/MarkoPoloResearchLab/roomledger/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/roomledger/internal/httpapi"
	"github.com/MarkoPoloResearchLab/roomledger/internal/logging"
	"github.com/MarkoPoloResearchLab/roomledger/internal/metrics"
	"github.com/MarkoPoloResearchLab/roomledger/internal/orchestrator"
	"github.com/MarkoPoloResearchLab/roomledger/internal/payments"
	"github.com/MarkoPoloResearchLab/roomledger/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
	config.RegisterServeFlags(cmd.Flags())
	return cmd
}

func runServer(ctx context.Context, cfg config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	storage, err := openBackend(ctx, cfg.StoreBackend, cfg.DatabaseURL, cfg.MigrateOnStart, logger)
	if err != nil {
		return err
	}
	defer storage.close()

	guard, closeGuard, err := newAttemptGuard(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeGuard()

	natsConn, err := eventbus.Connect(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	var publisher *eventbus.Publisher
	if natsConn != nil {
		defer natsConn.Close()
		publisher = eventbus.NewPublisher(eventbus.NewNATSBus(natsConn))
		logger.Info("event bus connected", zap.String("url", natsConn.ConnectedUrl()))
	} else {
		publisher = eventbus.NewPublisher(nil)
	}

	collectors := metrics.New(prometheus.DefaultRegisterer)
	creditService, err := ledger.NewService(storage.store, nowUnixUTC,
		ledger.WithOperationLogger(logging.NewOperationLogger(logger)),
		ledger.WithOperationLogger(collectors),
		ledger.WithOperationLogger(publisher),
	)
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}

	prices, err := cfg.PriceTable()
	if err != nil {
		return err
	}
	paidActions, err := orchestrator.New(creditService,
		orchestrator.Stores{Listings: storage.store, Actions: storage.store, Inconsistencies: storage.store},
		prices,
		guard,
		orchestrator.WithLogger(logger),
		orchestrator.WithAlerter(publisher),
		orchestrator.WithObserver(collectors),
		orchestrator.WithAttemptTTL(cfg.AttemptTTL),
	)
	if err != nil {
		return fmt.Errorf("orchestrator init: %w", err)
	}
	purchases, err := payments.NewService(creditService, ledger.DefaultPackageCatalog())
	if err != nil {
		return fmt.Errorf("payments init: %w", err)
	}

	httpConfig := httpapi.Config{
		ListenAddr:        cfg.HTTPListenAddr,
		AllowedOrigins:    cfg.AllowedOrigins,
		SessionSigningKey: cfg.SessionSigningKey,
		SessionIssuer:     cfg.SessionIssuer,
		SessionCookieName: cfg.SessionCookieName,
		WebhookSecret:     cfg.WebhookSecret,
		RequestTimeout:    cfg.RequestTimeout,
		MetricsEnabled:    cfg.MetricsEnabled,
	}
	session, err := httpapi.NewSessionMiddleware(httpConfig)
	if err != nil {
		return fmt.Errorf("session validator init: %w", err)
	}
	router := httpapi.NewRouter(httpConfig, httpapi.Dependencies{
		Ledger:       creditService,
		Orchestrator: paidActions,
		Payments:     purchases,
		Profiles:     storage.store,
		Prices:       prices,
		Metrics:      collectors,
		Logger:       logger,
	}, session)

	listener, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.LoggingInterceptor(logger)))
	grpcserver.Register(grpcServer, grpcserver.NewCreditServiceServer(creditService, purchases))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return httpapi.Serve(groupCtx, httpConfig, router, logger)
	})
	group.Go(func() error {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.GRPCListenAddr))
		if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown requested")
		grpcServer.GracefulStop()
		return nil
	})
	if natsConn != nil {
		subscriber := eventbus.NewConfirmationSubscriber(natsConn, func(ctx context.Context, event eventbus.PaymentConfirmedEvent) error {
			_, err := purchases.ConfirmPurchase(ctx, payments.Confirmation{
				UserID:          event.UserID,
				PackageID:       event.PackageID,
				PaymentRef:      event.PaymentRef,
				AmountPaidPence: event.AmountPaid,
			})
			if isRejectedConfirmation(err) {
				return eventbus.Permanent(err)
			}
			return err
		}, logger, eventbus.WithPaymentAlerter(publisher))
		group.Go(func() error {
			return subscriber.Start(groupCtx)
		})
	}
	return group.Wait()
}

func newAttemptGuard(ctx context.Context, cfg config.Config, logger *zap.Logger) (attempts.Guard, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Info("attempt guard is process-local")
		return attempts.NewLocalGuard(), func() {}, nil
	}
	client, err := attempts.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, fmt.Errorf("redis connect: %w", err)
	}
	logger.Info("attempt guard uses redis", zap.String("addr", cfg.RedisAddr))
	return attempts.NewRedisGuard(client, cfg.RedisKeyPrefix), func() { _ = client.Close() }, nil
}

func nowUnixUTC() int64 {
	return time.Now().UTC().Unix()
}

// isRejectedConfirmation reports confirmation errors that a retry cannot change.
func isRejectedConfirmation(err error) bool {
	for _, rejected := range []error{
		payments.ErrInvalidConfirmation,
		payments.ErrAmountMismatch,
		ledger.ErrUnknownPackage,
		ledger.ErrInvalidUserID,
		ledger.ErrInvalidIdempotencyKey,
		ledger.ErrIdempotencyMismatch,
	} {
		if errors.Is(err, rejected) {
			return true
		}
	}
	return false
}
