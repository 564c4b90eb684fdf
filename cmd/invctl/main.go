// invctl inspects and validates inventory files offline, and triggers
// maintenance tasks on the worker queue.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/feichai0017/inventory-etl/config"
	"github.com/feichai0017/inventory-etl/internal/agent"
	"github.com/feichai0017/inventory-etl/internal/models"
	"github.com/feichai0017/inventory-etl/internal/utils/validator"
	"github.com/feichai0017/inventory-etl/pkg/logger"
	"github.com/feichai0017/inventory-etl/pkg/queue"
)

// errInvalid makes the process exit non-zero after the report is printed.
var errInvalid = errors.New("validation failed")

var (
	verbose   bool
	sheetName string
	allSheets bool
	retention time.Duration
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		if !errors.Is(err, errInvalid) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "invctl",
		Short:         "Inventory ETL command line tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")

	sheetsCmd := &cobra.Command{
		Use:   "sheets <file>",
		Short: "List the sheets of a workbook or CSV with row counts and sample rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSheets(cmd.Context(), out, args[0])
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Run the data quality checks on one sheet without loading it",
		Long: `Run the data quality checks on one sheet without loading it.

The validation report is printed as JSON. With --all every sheet is
validated and the report maps sheet names to results. The command exits
with status 1 when a validated sheet has blocking errors.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if allSheets {
				return runValidateAll(cmd.Context(), out, args[0])
			}
			return runValidate(cmd.Context(), out, args[0], sheetName)
		},
	}
	validateCmd.Flags().StringVarP(&sheetName, "sheet", "s", "", "sheet to validate (default: first sheet)")
	validateCmd.Flags().BoolVarP(&allSheets, "all", "a", false, "validate every sheet")
	validateCmd.MarkFlagsMutuallyExclusive("sheet", "all")

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Enqueue an upload retention cleanup on the worker queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(cmd.Context(), out, retention)
		},
	}
	cleanupCmd.Flags().DurationVar(&retention, "retention", 0, "delete uploads older than this (default: storage.retention)")

	root.AddCommand(sheetsCmd, validateCmd, cleanupCmd)
	return root
}

func newLogger() logger.Logger {
	if !verbose {
		return logger.NewNop()
	}
	log, err := logger.NewLogger(
		logger.WithLevel("debug"),
		logger.WithEncoding("console"),
		logger.WithOutputPaths([]string{"stderr"}),
	)
	if err != nil {
		return logger.NewNop()
	}
	return log
}

func readChecked(path string, log logger.Logger) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if _, err := validator.NewUploadValidator(log, nil).Validate(data, filepath.Base(path)); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}

func runSheets(ctx context.Context, out io.Writer, path string) error {
	log := newLogger()
	data, err := readChecked(path, log)
	if err != nil {
		return err
	}
	sheets, err := agent.NewProcessorFactory(log).Inspect(ctx, data, filepath.Base(path))
	if err != nil {
		return err
	}
	return writeJSON(out, sheets)
}

func runValidate(ctx context.Context, out io.Writer, path, sheet string) error {
	log := newLogger()
	data, err := readChecked(path, log)
	if err != nil {
		return err
	}
	wb, err := agent.NewProcessorFactory(log).Parse(ctx, data, filepath.Base(path))
	if err != nil {
		return err
	}
	batch, ok := wb.Select(sheet)
	if !ok {
		return fmt.Errorf("no sheet available in %s", path)
	}

	result := validator.NewBatchValidator(log, nil).Validate(batch, batch.Name)
	if err := writeJSON(out, struct {
		Sheet string `json:"sheet_name"`
		*models.ValidationResult
	}{batch.Name, result}); err != nil {
		return err
	}
	if !result.IsValid {
		return errInvalid
	}
	return nil
}

func runValidateAll(ctx context.Context, out io.Writer, path string) error {
	log := newLogger()
	data, err := readChecked(path, log)
	if err != nil {
		return err
	}
	wb, err := agent.NewProcessorFactory(log).Parse(ctx, data, filepath.Base(path))
	if err != nil {
		return err
	}

	v := validator.NewBatchValidator(log, nil)
	results := make(map[string]*models.ValidationResult, len(wb.Sheets))
	valid := true
	for _, sheet := range wb.Sheets {
		res := v.Validate(sheet, sheet.Name)
		results[sheet.Name] = res
		valid = valid && res.IsValid
	}
	if err := writeJSON(out, results); err != nil {
		return err
	}
	if !valid {
		return errInvalid
	}
	return nil
}

func runCleanup(ctx context.Context, out io.Writer, retention time.Duration) error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	if cfg.Redis.Addr == "" {
		return errors.New("REDIS_ADDR is required")
	}
	if retention <= 0 {
		retention = cfg.Storage.Retention
	}

	q := queue.NewAsynqQueue(&queue.Config{
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
	})
	defer q.Close()

	id, err := q.EnqueueCleanup(ctx, retention)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "enqueued %s (retention %s)\n", id, retention)
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
