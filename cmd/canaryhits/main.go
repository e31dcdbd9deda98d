package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/runreveal/canaryhits/internal"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flagValues{}
	cmd := &cobra.Command{
		Use:   "canaryhits",
		Short: "Collect canary token hit emails into per-token record files",
		Long: `canaryhits reads a folder of canary token notification emails, enriches
every hit with exit node membership and geolocation, and writes one CSV
record file per token. Existing record files are never replaced unless
--force is given.

Record files can also be summarized on their own with --output.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if f.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))

			// .env in the working directory wins over the one in the config dir
			_ = godotenv.Load()
			_ = godotenv.Load(filepath.Join(internal.ConfigDir(), ".env"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, explicit := f.configPath, f.configPath != ""
			if !explicit {
				path = defaultConfigPath()
			}
			cfg, err := loadConfig(path, explicit)
			if err != nil {
				return err
			}
			cfg.applyEnv(os.Getenv)
			cfg.applyFlags(f, cmd.Flags().Changed)
			return run(cmd.Context(), cfg, f.outputs, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.configPath, "config", "", "config file (default: <user config dir>/canaryhits/config.json)")
	flags.StringVarP(&f.input, "input", "i", "", "folder of notification emails to ingest")
	flags.StringArrayVarP(&f.outputs, "output", "o", nil, "existing record file to analyze (repeatable)")
	flags.StringVarP(&f.prefix, "prefix", "p", "", "prefix for created record files")
	flags.StringVar(&f.extension, "ext", ".eml", "only read input files with this extension")
	flags.BoolVarP(&f.force, "force", "f", false, "replace record files that already exist")
	flags.BoolVar(&f.skipAnalysis, "skip-analysis", false, "do not summarize the record files")
	flags.StringVar(&f.timeout, "timeout", "10s", "timeout for each lookup")
	flags.StringVar(&f.ipinfoToken, "ipinfo-token", "", "ipinfo.io API token (or IPINFO_TOKEN)")
	flags.StringVar(&f.addressPolicy, "address-policy", "last", "address to use when a hit lists several: first or last")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")
	return cmd
}
