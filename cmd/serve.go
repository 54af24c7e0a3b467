package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"github.com/xssnick/tonutils-go/address"

	"mytonstorage-dashboard/pkg/clients/backend"
	"mytonstorage-dashboard/pkg/clients/directory"
	tonclient "mytonstorage-dashboard/pkg/clients/ton"
	"mytonstorage-dashboard/pkg/httpServer"
	"mytonstorage-dashboard/pkg/services/auth"
	contractsService "mytonstorage-dashboard/pkg/services/contracts"
	"mytonstorage-dashboard/pkg/services/dispatch"
	offersService "mytonstorage-dashboard/pkg/services/offers"
	providersService "mytonstorage-dashboard/pkg/services/providers"
	"mytonstorage-dashboard/pkg/services/selection"
	"mytonstorage-dashboard/pkg/services/wizard"
	"mytonstorage-dashboard/pkg/store"
	"mytonstorage-dashboard/pkg/workers"
	contractsworker "mytonstorage-dashboard/pkg/workers/contracts"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local API and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
}

func run() (err error) {
	// Tools
	config, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(config)
	clk := clock.New()

	// Metrics
	m := newMetrics(config)

	// State
	stateRepo, closeState, err := newStateRepository(context.Background(), config, m, logger)
	if err != nil {
		logger.Error("failed to open state repository", slog.String("error", err.Error()))
		return
	}
	defer closeState()

	appState := store.New(stateRepo, store.Options{
		Profile:        config.State.Profile,
		HydrateTimeout: config.State.HydrateTimeout,
		Clock:          clk,
	}, logger)

	if hErr := appState.Hydrate(context.Background()); hErr != nil {
		logger.Warn("state hydration failed, starting from defaults", slog.String("error", hErr.Error()))
	}

	// Clients
	backendClient, err := backend.NewClient(config.Backend.URL, config.Backend.Timeout)
	if err != nil {
		logger.Error("failed to create backend client", slog.String("error", err.Error()))
		return
	}

	directoryClient, err := directory.NewClient(config.Directory.URL, config.Directory.Timeout)
	if err != nil {
		logger.Error("failed to create directory client", slog.String("error", err.Error()))
		return
	}
	directoryClient = directory.NewCacheMiddleware(directoryClient)

	tonClient, err := tonclient.NewClient(context.Background(), config.TON.ConfigURL, logger)
	if err != nil {
		logger.Error("failed to create TON client", slog.String("error", err.Error()))
		return
	}

	_, providerClient, err := newProviderClient(context.Background(), config.TON.ConfigURL, config.System.ADNLPort, config.System.Key)
	if err != nil {
		logger.Error("failed to create provider client", slog.String("error", err.Error()))
		return
	}

	bridge, err := tonclient.NewWallet(tonClient.API(), config.Wallet.Seed, clk, logger)
	if err != nil {
		logger.Error("failed to open wallet", slog.String("error", err.Error()))
		return
	}

	chainIndexer := newIndexer(config, tonClient)

	// Services
	opCodes, err := contractsService.ParseOpCodes(config.Indexer.OpCodes)
	if err != nil {
		logger.Error("invalid op codes", slog.String("error", err.Error()))
		return
	}

	scanner := contractsService.NewScanner(chainIndexer, backendClient, directoryClient, contractsService.ScannerOptions{
		PageSize:       config.Indexer.PageSize,
		OpCodes:        opCodes,
		MaxAutoAdvance: config.Indexer.MaxAutoAdvance,
		Clock:          clk,
	}, logger)
	feed := contractsService.NewFeed(scanner, appState, logger)
	feed.Restore()

	authSvc := auth.New(backendClient, bridge, appState, scanner, config.System.Domain, logger)

	var offersSource offersService.Source = backendClient
	if config.Backend.OffersSource == offersSourceADNL {
		offersSource = providersService.NewService(providerClient, logger)
	}
	offersSvc := offersService.NewService(offersSource, authSvc.Invalidate, logger)
	offersSvc = offersService.NewOffersCache(offersSvc, clk)

	sender := dispatch.NewService(bridge, chainIndexer, dispatch.Options{
		Timeout:      config.Wallet.DispatchTimeout,
		PollInterval: config.Wallet.PollInterval,
		Clock:        clk,
	}, logger)

	var builder contractsService.Builder = backendClient
	if config.Backend.ContractsBuilder == contractsBuilderLocal {
		builder = contractsService.NewLocalBuilder(backendClient)
	}
	contractsSvc := contractsService.NewService(builder, backendClient, tonClient, sender, authSvc.Invalidate, logger)

	selectionSvc := selection.NewService(directoryClient, logger)

	wizardSvc := wizard.NewService(
		backendClient,
		directoryClient,
		offersSvc,
		sender,
		authSvc,
		appState,
		authSvc.Invalidate,
		wizard.Options{
			DeployFee:   config.Wallet.DeployFee,
			ProofPeriod: config.Wallet.ProofPeriod,
		},
		logger,
	)

	// Workers
	prober := contractsworker.ProbeFunc(func(ctx context.Context, providerKey []byte, contract *address.Address, toProof uint64) (contractsworker.StorageInfo, error) {
		info, rErr := providerClient.RequestStorageInfo(ctx, providerKey, contract, toProof)
		if rErr != nil {
			return contractsworker.StorageInfo{}, rErr
		}

		return contractsworker.StorageInfo{
			Status:     info.Status,
			Reason:     info.Reason,
			Downloaded: info.Downloaded,
			HasProof:   len(info.Proof) > 0,
		}, nil
	})

	contractsWorker := contractsworker.NewWorker(authSvc, feed, contractsSvc, tonClient, prober, appState, logger)
	contractsWorker = contractsworker.NewMetrics(m.workersRunCount, m.workersRunDuration, contractsWorker)

	// Start workers
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workers := workers.NewWorkers(contractsWorker, logger)
	if err = workers.Start(cancelCtx); err != nil {
		logger.Error("failed to start workers", slog.String("error", err.Error()))
		return
	}

	// HTTP Server
	var adminAuthTokens []string
	if config.System.AdminAuthTokens != "" {
		adminAuthTokens = strings.Split(config.System.AdminAuthTokens, ",")
	}

	app := fiber.New(fiber.Config{BodyLimit: 1024 * 1024})
	server := httpServer.New(
		app,
		authSvc,
		wizardSvc,
		selectionSvc,
		offersSvc,
		contractsSvc,
		feed,
		appState,
		adminAuthTokens,
		config.Metrics.Namespace,
		config.Metrics.ServerSubsystem,
		logger,
	)

	server.RegisterRoutes()

	go func() {
		addr := fmt.Sprintf("%s:%s", config.System.Host, config.System.Port)
		if err := app.Listen(addr); err != nil {
			logger.Error("error starting server", slog.String("err", err.Error()))
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	<-signalChan
	cancel()

	err = app.ShutdownWithTimeout(time.Second * 5)
	if err != nil {
		logger.Error("server shut down error", slog.String("err", err.Error()))
		return err
	}

	return err
}
