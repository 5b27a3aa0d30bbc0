package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/facegate/internal/config"
	"github.com/andresmejia3/facegate/internal/logger"
	"github.com/andresmejia3/facegate/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// DB is the global database connection shared by subcommands
	DB *store.Store
	// Cfg is the resolved configuration (defaults < file < env < flags)
	Cfg *config.Config

	cfgFile   string
	logCloser io.Closer
)

// Version is the application version.
const Version = "0.1.0"

// flagKeys maps command-line flags onto configuration keys. A flag only
// overrides the configuration when the user actually sets it.
var flagKeys = map[string]string{
	"db":                  "db.url",
	"log-level":           "log.level",
	"log-format":          "log.format",
	"threshold":           "pipeline.threshold",
	"timeout":             "pipeline.timeout",
	"crop-size":           "pipeline.crop_size",
	"nth-frame":           "capture.nth_frame",
	"fps":                 "capture.fps",
	"metrics-addr":        "metrics.addr",
	"detection-threshold": "worker.detection_threshold",
	"model":               "worker.model",
	"worker-script":       "worker.script",
}

var rootCmd = &cobra.Command{
	Use:     "facegate",
	Short:   "Face recognition gate for live video streams",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; the environment may already be populated.
		_ = godotenv.Load()

		var err error
		Cfg, err = config.Load(cfgFile, boundFlags(cmd.Flags()))
		if err != nil {
			return err
		}
		logCloser = logger.Init(Cfg.Log)

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), Cfg.DB.ConnString())
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func boundFlags(fs *pflag.FlagSet) map[string]*pflag.Flag {
	bound := make(map[string]*pflag.Flag)
	for name, key := range flagKeys {
		if f := fs.Lookup(name); f != nil {
			bound[key] = f
		}
	}
	return bound
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "Path to a YAML config file")
	pf.String("db", "", "PostgreSQL connection string (default: postgres://localhost:5432/facegate)")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-format", "text", "Log format (text or json)")
}

// addEngineFlags registers the flags of every command that runs the face models.
func addEngineFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Duration("timeout", 0, "Per-call limit for the face models (default 5s)")
	f.Int("crop-size", 0, "Side of the square face crop handed to the extractor (default 160)")
	f.Float64P("detection-threshold", "D", 0, "Face detection confidence threshold (default 0.5)")
	f.String("model", "", "Face model pack loaded by the worker (default buffalo_l)")
	f.String("worker-script", "", "Path to the Python model worker (default python/worker.py)")
}

// addThresholdFlag registers the similarity threshold flag.
func addThresholdFlag(cmd *cobra.Command) {
	cmd.Flags().Float64P("threshold", "t", 0.7, "Minimum cosine similarity for a match, inclusive (-1.0 to 1.0)")
}
