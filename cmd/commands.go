package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mytonstorage-dashboard/pkg/clients/backend"
	"mytonstorage-dashboard/pkg/clients/directory"
	tonclient "mytonstorage-dashboard/pkg/clients/ton"
	"mytonstorage-dashboard/pkg/models"
	contractsService "mytonstorage-dashboard/pkg/services/contracts"
	"mytonstorage-dashboard/pkg/services/selection"
	"mytonstorage-dashboard/pkg/utils"
)

func newProvidersCmd() *cobra.Command {
	var req selection.Request
	var location, sort string

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Print a provider selection from the directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}

			logger := newLogger(config)

			directoryClient, err := directory.NewClient(config.Directory.URL, config.Directory.Timeout)
			if err != nil {
				return fmt.Errorf("failed to create directory client: %w", err)
			}

			req.Location = selection.LocationMode(location)
			req.Sort = selection.SortMode(sort)

			providers, err := selection.NewService(directoryClient, logger).Recommend(cmd.Context(), req)
			if err != nil {
				return err
			}

			return printJSON(cmd, providers)
		},
	}

	cmd.Flags().IntVar(&req.Count, "count", 3, "number of providers to pick")
	cmd.Flags().Uint32Var(&req.ProofPeriod, "period", 0, "proof period in seconds every provider must accept")
	cmd.Flags().StringVar(&location, "location", string(selection.LocationAny), "location diversity: any, countries, cities")
	cmd.Flags().StringVar(&sort, "sort", string(selection.SortRating), "ordering: rating, price, random")
	cmd.Flags().Float64Var(&req.MinUptime, "min-uptime", 0, "minimal provider uptime")
	cmd.Flags().Float64Var(&req.MinRating, "min-rating", 0, "minimal provider rating")

	return cmd
}

func newContractsCmd() *cobra.Command {
	var account string
	var pages int

	cmd := &cobra.Command{
		Use:   "contracts",
		Short: "Scan a wallet history and print its storage contracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := utils.ParseAnyAddr(account); err != nil {
				return fmt.Errorf("invalid account %q: %w", account, err)
			}

			config, err := loadConfig()
			if err != nil {
				return err
			}

			logger := newLogger(config)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var tonClient tonclient.Client
			if config.Indexer.Kind == indexerLiteserver {
				tonClient, err = tonclient.NewClient(ctx, config.TON.ConfigURL, logger)
				if err != nil {
					return fmt.Errorf("failed to create TON client: %w", err)
				}
			}

			backendClient, err := backend.NewClient(config.Backend.URL, config.Backend.Timeout)
			if err != nil {
				return fmt.Errorf("failed to create backend client: %w", err)
			}

			directoryClient, err := directory.NewClient(config.Directory.URL, config.Directory.Timeout)
			if err != nil {
				return fmt.Errorf("failed to create directory client: %w", err)
			}

			opCodes, err := contractsService.ParseOpCodes(config.Indexer.OpCodes)
			if err != nil {
				return err
			}

			scanner := contractsService.NewScanner(newIndexer(config, tonClient), backendClient, directoryClient, contractsService.ScannerOptions{
				PageSize:       config.Indexer.PageSize,
				OpCodes:        opCodes,
				MaxAutoAdvance: config.Indexer.MaxAutoAdvance,
			}, logger)
			scanner.Reset(account)

			files, err := scanContracts(ctx, scanner, pages, logger)
			if err != nil {
				return err
			}

			return printJSON(cmd, files)
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "wallet address to scan")
	cmd.Flags().IntVar(&pages, "pages", 1, "number of older pages to load")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func scanContracts(ctx context.Context, scanner *contractsService.Scanner, pages int, logger *slog.Logger) ([]models.UploadFile, error) {
	var txs []models.ContractTx
	for i := 0; i < pages && !scanner.Cursor().End; i++ {
		page, err := scanner.LoadOlder(ctx)
		if err != nil && !errors.Is(err, models.ErrSuperseded) {
			return nil, err
		}

		txs = append(txs, page...)
	}

	logger.Debug("contracts scanned", "count", len(txs), "end", scanner.Cursor().End)

	files := scanner.Enrich(ctx, txs)
	if files == nil {
		files = []models.UploadFile{}
	}

	return files, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("mytonstorage-dashboard %s (%s)\n", Version, Commit)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
