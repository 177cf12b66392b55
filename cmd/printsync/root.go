package main

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"printsync/internal/config"
	"printsync/internal/logging"
)

// rootOptions holds flag values; flags only override when set explicitly.
type rootOptions struct {
	configPath   string
	moonrakerURL string
	backend      string
	collection   string
	documentKey  string
	syncMode     string
	httpAddr     string
	corsOrigins  string
	logLevel     string
	logFormat    string
	notifier     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "printsync",
		Short:         "Mirror Klipper printer status from Moonraker into a document store",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts, os.LookupEnv)
			if err != nil {
				return err
			}
			log, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, log)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "Config file (.yaml, .yml, .json or .toml)")
	pf.StringVar(&opts.moonrakerURL, "moonraker-url", "", "Moonraker websocket or http URL (env MOONRAKER_WS_URL)")
	pf.StringVar(&opts.backend, "store", "", "Store backend: firestore|nats|sqlite|postgres|memory")
	pf.StringVar(&opts.collection, "collection", "", "Status collection (env FIRESTORE_COLLECTION)")
	pf.StringVar(&opts.documentKey, "document-key", "", "Status document key")
	pf.StringVar(&opts.syncMode, "sync-mode", "", "Sync mode: immediate|periodic")
	pf.StringVar(&opts.httpAddr, "http-addr", "", "Ops HTTP listen address, empty string from config disables it")
	pf.StringVar(&opts.corsOrigins, "cors-origins", "", "Comma separated CORS origins for the ops API")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error (env LOG_LEVEL)")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format: json|console")
	pf.BoolVar(&opts.notifier, "notifier", false, "Enable the print queue notifier")

	root.AddCommand(newCheckConfigCmd(opts))
	return root
}

func newCheckConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "check-config",
		Short:   "Validate the configuration and print the effective values",
		Example: "  printsync check-config -c printsync.yaml",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts, os.LookupEnv)
			if err != nil {
				return err
			}
			return printConfig(cmd.OutOrStdout(), cfg)
		},
	}
}

// loadConfig layers defaults, the config file, the environment and flags,
// then validates the result.
func loadConfig(cmd *cobra.Command, opts *rootOptions, lookup func(string) (string, bool)) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, fmt.Errorf("environment: %w", err)
	}

	flags := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	set("moonraker-url", &cfg.Moonraker.URL, opts.moonrakerURL)
	set("store", &cfg.Store.Backend, opts.backend)
	set("collection", &cfg.Store.Collection, opts.collection)
	set("document-key", &cfg.Store.DocumentKey, opts.documentKey)
	set("sync-mode", &cfg.Sync.Mode, opts.syncMode)
	set("http-addr", &cfg.HTTP.Addr, opts.httpAddr)
	set("log-level", &cfg.Log.Level, opts.logLevel)
	set("log-format", &cfg.Log.Format, opts.logFormat)
	if flags.Changed("cors-origins") {
		cfg.HTTP.CORSOrigins = splitCSV(opts.corsOrigins)
	}
	if flags.Changed("notifier") {
		cfg.Notifier.Enabled = opts.notifier
	}

	if err := cfg.ExpandPaths(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func printConfig(w io.Writer, cfg config.Config) error {
	cfg.Store.Postgres.DSN = redactDSN(cfg.Store.Postgres.DSN)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// redactDSN hides the password of a URL-style DSN.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
