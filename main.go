package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rin/backend"
	"rin/config"
	"rin/logger"
	"rin/metrics"
	"rin/pipeline"
	"rin/validators"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "rin: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// cliOptions holds flags shared by every subcommand
type cliOptions struct {
	configPath string
	envFile    string
	logDir     string
	logLevel   string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	opts := &cliOptions{stdin: stdin, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "rin",
		Short:         "Re-Indent & Normalise: fence code blocks in markdown",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "configuration file (.yaml, .yml or .toml)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "KEY=VALUE overrides applied after the config file")
	flags.StringVar(&opts.logDir, "log-dir", "", "directory for logs and run reports (overrides log_dir)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (overrides log_level)")

	root.AddCommand(newNormalizeCmd(opts), newServeCmd(opts), newVersionCmd(opts))
	return root
}

// loadConfig applies flag overrides on top of file and env configuration
func (o *cliOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithEnv(o.configPath, o.envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.logDir != "" {
		cfg.LogDir = o.logDir
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, nil
}

// buildPipeline wires the HTTP backend and Python checker into a pipeline
func buildPipeline(cfg *config.Config, obsLogger *logger.ObservabilityLogger, recorder *metrics.Recorder) (*pipeline.Pipeline, *backend.HTTPBackend) {
	be := backend.NewHTTPBackend(cfg, obsLogger)
	p := pipeline.New(cfg, be, validators.NewPythonChecker(),
		pipeline.WithLogger(obsLogger),
		pipeline.WithMetrics(recorder),
	)
	return p, be
}

func newNormalizeCmd(opts *cliOptions) *cobra.Command {
	var (
		output      string
		emitJSON    bool
		metricsFile string
	)

	cmd := &cobra.Command{
		Use:   "normalize [INPUT]",
		Short: "Normalise a markdown file, or stdin when INPUT is omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(opts.stdin, args)
			if err != nil {
				return err
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			obsLogger, err := logger.NewFileLogger(cfg.LogDir, cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("failed to open log directory %s: %w", cfg.LogDir, err)
			}
			defer obsLogger.Close()

			recorder := metrics.NewRecorder()
			p, _ := buildPipeline(cfg, obsLogger, recorder)
			cleaned, rep := p.Normalize(cmd.Context(), raw)

			if output != "" {
				if err := os.WriteFile(output, []byte(cleaned), 0644); err != nil {
					return fmt.Errorf("cannot write output: %w", err)
				}
			} else if _, err := io.WriteString(opts.stdout, cleaned); err != nil {
				return fmt.Errorf("cannot write output: %w", err)
			}

			if emitJSON {
				data, err := json.MarshalIndent(rep, "", "  ")
				if err != nil {
					fmt.Fprintf(opts.stderr, "rin: failed to serialise report: %v\n", err)
				} else {
					fmt.Fprintln(opts.stderr, string(data))
				}
			}

			if metricsFile != "" {
				if err := recorder.WriteTextfile(metricsFile); err != nil {
					return fmt.Errorf("failed to write metrics: %w", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write cleaned markdown here instead of stdout")
	cmd.Flags().BoolVar(&emitJSON, "json", false, "emit the validation report as JSON on stderr")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write run metrics in Prometheus textfile format")
	return cmd
}

func readInput(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("error reading input: %w", err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(args[0])
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("input file not found: %s", args[0])
	}
	if err != nil {
		return "", fmt.Errorf("error reading input: %w", err)
	}
	return string(data), nil
}

func newServeCmd(opts *cliOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve normalisation over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			obsLogger, err := logger.New(opts.stderr, cfg.LogLevel)
			if err != nil {
				return err
			}

			recorder := metrics.NewRecorder()
			p, be := buildPipeline(cfg, obsLogger, recorder)
			srv := NewServer(p, recorder, obsLogger).WithEndpointHealth(be.Health(), cfg.Endpoints)

			server := &http.Server{
				Addr:         addr,
				Handler:      srv.Handler(),
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 300 * time.Second, // Runs may wait on several backend calls
				IdleTimeout:  60 * time.Second,
			}

			obsLogger.Info(logger.ComponentServer, logger.CategoryRequest, "", "rin server starting", map[string]interface{}{
				"address":     addr,
				"endpoints":   len(cfg.Endpoints),
				"shot0_model": cfg.Shot0Model,
				"big_model":   cfg.BigModel,
				"shot1_model": cfg.Shot1Model,
				"api_key":     cfg.MaskedAPIKey(),
				"version":     GetVersionInfo(),
			})

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				obsLogger.Error(logger.ComponentServer, logger.CategoryError, "", "Server failed", map[string]interface{}{"error": err.Error()})
				return err
			case <-cmd.Context().Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			obsLogger.Info(logger.ComponentServer, logger.CategoryRequest, "", "rin server shutting down", nil)
			return server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}

func newVersionCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(opts.stdout, GetVersionInfo())
			return err
		},
	}
}
