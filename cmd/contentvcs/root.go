package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nainya/contentvcs/internal/config"
	"github.com/nainya/contentvcs/internal/logger"
	"github.com/nainya/contentvcs/pkg/content"
	"github.com/nainya/contentvcs/pkg/engine"
)

// app carries the state shared by every command of one invocation
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
	engine  *engine.Engine
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}
	a.v.SetDefault("journal.path", "contentvcs.journal")
	a.v.SetDefault("backup.backend", config.BackendFS)
	a.v.SetDefault("log.level", "warn")

	root := &cobra.Command{
		Use:   "contentvcs",
		Short: "Version control for structured content",
		Long: `contentvcs tracks the history of structured content items
(notebooks, visualizations, datasets, scripts) as immutable versions.

Each item has named branches, merges with conflict detection, and
backups of notable versions that expire after a retention period.
State is kept in an append-only journal next to the backup store.`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.open,
		PersistentPostRunE: a.close,
	}

	root.CompletionOptions.DisableDefaultCmd = true

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (TOML, YAML or JSON)")
	flags.String("journal", "contentvcs.journal", "journal file path")
	flags.String("backup-dir", "backups", "directory for the fs backup backend")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	a.v.BindPFlag("journal.path", flags.Lookup("journal"))
	a.v.BindPFlag("backup.dir", flags.Lookup("backup-dir"))
	a.v.BindPFlag("log.level", flags.Lookup("log-level"))

	root.AddCommand(
		a.initCmd(),
		a.commitCmd(),
		a.logCmd(),
		a.showCmd(),
		a.diffCmd(),
		a.revertCmd(),
		a.branchCmd(),
		a.mergeCmd(),
		a.mergesCmd(),
		a.backupCmd(),
		a.sweepCmd(),
		a.pruneCmd(),
	)
	return root
}

func (a *app) open(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" {
		return nil
	}
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	logger.InitGlobalLogger(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	a.log = logger.GetGlobalLogger()

	opts, err := engine.FromConfig(cfg, a.log)
	if err != nil {
		return err
	}
	e, err := engine.Open(cmd.Context(), opts)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	a.engine = e
	return nil
}

func (a *app) close(cmd *cobra.Command, args []string) error {
	if a.engine == nil {
		return nil
	}
	return a.engine.Close()
}

// readContent decodes a JSON object from path, or from stdin when path is
// empty or "-"
func readContent(cmd *cobra.Command, path string) (*content.Map, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	var m content.Map
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse content: %w", err)
	}
	return &m, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
