package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/models"
)

var syncFlags struct {
	provider      string
	connection    string
	model         string
	modifiedAfter string
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass and print its summary",
	Long: `Runs a single sync pass for --provider, --connection and --model.
Without flags every connection known to the integration platform is polled.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncFlags.provider, "provider", "", "provider config key")
	syncCmd.Flags().StringVar(&syncFlags.connection, "connection", "", "connection id")
	syncCmd.Flags().StringVar(&syncFlags.model, "model", "", "integration platform model name")
	syncCmd.Flags().StringVar(&syncFlags.modifiedAfter, "modified-after", "", "only records modified after this RFC3339 time")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, zapLogger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = zapLogger.Sync() }()

	db, err := connectDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	c := newCore(cfg, db, logger)
	defer c.Close()

	var results []models.SyncResult
	var syncErr error

	if syncFlags.provider == "" && syncFlags.connection == "" && syncFlags.model == "" {
		cmd.Println("Polling all connections...")
		results, syncErr = c.orchestrator.SyncAll(ctx)
	} else {
		req := models.SyncRequest{
			Provider:     syncFlags.provider,
			ConnectionID: syncFlags.connection,
			Model:        syncFlags.model,
		}
		if syncFlags.modifiedAfter != "" {
			t, err := time.Parse(time.RFC3339, syncFlags.modifiedAfter)
			if err != nil {
				return fmt.Errorf("invalid --modified-after: %w", err)
			}
			req.ModifiedAfter = &t
		}

		var result *models.SyncResult
		result, syncErr = c.orchestrator.Sync(ctx, req)
		if result != nil {
			results = append(results, *result)
		}
	}

	for _, r := range results {
		line, _ := json.Marshal(r)
		cmd.Println(string(line))
	}

	if syncErr != nil {
		return fmt.Errorf("sync finished with errors: %w", syncErr)
	}
	if len(results) == 0 {
		cmd.Println("No connections to sync.")
	}
	return nil
}
