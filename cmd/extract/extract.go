package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/farxc/spm-results/internal/db"
	"github.com/farxc/spm-results/internal/env"
	"github.com/farxc/spm-results/internal/incentive"
	"github.com/farxc/spm-results/internal/incentive/client"
	"github.com/farxc/spm-results/internal/incentive/export"
	"github.com/farxc/spm-results/internal/incentive/types"
	"github.com/farxc/spm-results/internal/logger"
	"github.com/farxc/spm-results/internal/store"
	"github.com/spf13/cobra"
)

const passwordEnv = "INCENTIVE_PASSWORD"

const (
	formatCSV  = "csv"
	formatJSON = "json"
)

var errNoPassword = errors.New("password required: set " + passwordEnv + " or pass --password-stdin")

type extractOptions struct {
	tenant        string
	username      string
	payeeID       string
	month         string
	passwordStdin bool
	output        string
	format        string
	encoding      string
	timeout       time.Duration
	logLevel      string
}

func extractCmd() *cobra.Command {
	opts := &extractOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Query the five result collections and write the normalized table",
		Long: `Query credits, measurements, incentives, commissions and deposits for one
payee and month, then write the combined table as CSV or JSON.

The password is read from ` + passwordEnv + ` or, with --password-stdin, from the
first line of standard input. It is never accepted as a flag.

Examples:
  spm-extract run --tenant acme --username analyst --payee P100 --month 2024-01
  spm-extract run --tenant acme --username analyst --payee P100 --month 2024-01 \
    --encoding windows-1252 --output results.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtractCmd(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.tenant, "tenant", "", "tenant name")
	cmd.Flags().StringVarP(&opts.username, "username", "u", "", "API username")
	cmd.Flags().StringVarP(&opts.payeeID, "payee", "p", "", "payee id")
	cmd.Flags().StringVarP(&opts.month, "month", "m", "", "period name, e.g. 2024-01")
	cmd.Flags().BoolVar(&opts.passwordStdin, "password-stdin", false, "read the password from standard input")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "-", "output file, - for standard output")
	cmd.Flags().StringVarP(&opts.format, "format", "f", formatCSV, "output format (csv, json)")
	cmd.Flags().StringVarP(&opts.encoding, "encoding", "e", export.EncodingUTF8, "csv encoding (utf-8, windows-1252, iso-8859-1)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", env.GetDuration("BATCH_TIMEOUT", incentive.DefaultBatchTimeout), "time allowed for the whole batch")
	cmd.Flags().StringVar(&opts.logLevel, "loglevel", env.GetString("LOG_LEVEL", "info"), "log level: debug, info, warn, error")

	return cmd
}

func runExtractCmd(cmd *cobra.Command, opts *extractOptions) error {
	if opts.format != formatCSV && opts.format != formatJSON {
		return fmt.Errorf("unknown format %q", opts.format)
	}
	if _, _, err := export.Charset(opts.encoding); err != nil {
		return err
	}

	password, err := resolvePassword(os.Getenv(passwordEnv), opts.passwordStdin, cmd.InOrStdin())
	if err != nil {
		return err
	}

	// Logs go to stderr so the table can be piped from stdout.
	appLogger := logger.New(cmd.ErrOrStderr(), logger.ParseLevel(opts.logLevel))
	ctx := cmd.Context()

	var recorder incentive.RunRecorder
	if addr := env.GetString("DB_ADDR", ""); addr != "" {
		storage, closeDB, err := openStorage(ctx, addr)
		if err != nil {
			appLogger.Warn("Database", "Run history disabled: %v", err)
		} else {
			defer closeDB()
			recorder = storage.ExtractionRuns
		}
	}

	apiClient := client.New(
		env.GetString("INCENTIVE_API_BASE_URL", client.DefaultBaseURL),
		env.GetDuration("FETCH_TIMEOUT", 30*time.Second),
		appLogger,
	)
	pipeline := incentive.NewPipeline(apiClient, recorder, appLogger, opts.timeout)

	q := types.Query{
		TenantName: opts.tenant,
		Username:   opts.username,
		Password:   password,
		PayeeID:    opts.payeeID,
		Month:      opts.month,
	}

	w, closeOutput, err := openOutput(opts.output, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeOutput()

	return runExtract(ctx, pipeline, q, opts, w)
}

func runExtract(ctx context.Context, pipeline *incentive.Pipeline, q types.Query, opts *extractOptions, w io.Writer) error {
	result, err := pipeline.Run(ctx, q, store.TriggerTypeCLI)
	if err != nil {
		return fmt.Errorf("%s (%s): %w", types.UserMessage(err), types.KindOf(err), err)
	}
	return writeResult(w, result, opts.format, opts.encoding)
}

// resolvePassword prefers the environment over standard input. Only the line
// terminator is stripped; the password is otherwise used verbatim.
func resolvePassword(fromEnv string, fromStdin bool, stdin io.Reader) (string, error) {
	if fromEnv != "" {
		return fromEnv, nil
	}
	if !fromStdin {
		return "", errNoPassword
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	if password == "" {
		return "", errNoPassword
	}
	return password, nil
}

func openOutput(path string, stdout io.Writer) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output file: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func openStorage(ctx context.Context, addr string) (*store.Storage, func(), error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := db.New(ctx, db.Config{
		Addr:         addr,
		MaxOpenConns: 2,
		MaxIdleConns: 2,
		MaxIdleTime:  "1m",
	})
	if err != nil {
		return nil, nil, err
	}

	storage := store.NewStorage(conn)
	if err := storage.ExtractionRuns.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return storage, func() { conn.Close() }, nil
}

func writeResult(w io.Writer, result *incentive.Result, format, encodingName string) error {
	if format == formatJSON {
		output := struct {
			RunID         string               `json:"run_id"`
			Columns       []string             `json:"columns"`
			Count         int                  `json:"count"`
			Rows          []types.Row          `json:"rows"`
			MissingFields []types.MissingField `json:"missing_fields"`
		}{
			RunID:         result.RunID,
			Columns:       types.Columns,
			Count:         len(result.Rows),
			Rows:          result.Rows,
			MissingFields: result.Missing,
		}

		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(output)
	}
	return export.WriteCSV(w, result.Frame, encodingName)
}
