// Command reasoner runs the clinical reasoning engine from the command line. It analyzes
// health data read from files or stdin, serves the HTTP API against a local SQLite history,
// manages that history and applies PostgreSQL migrations.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/clinical-reasoning-engine/internal/app"
	"github.com/clinical-reasoning-engine/internal/config"
	"github.com/clinical-reasoning-engine/internal/knowledge"
	"github.com/clinical-reasoning-engine/internal/service"
)

// cli carries what every subcommand needs once the root command has run.
type cli struct {
	envFile          string
	knowledgeVersion string

	cfg      *config.LiteConfig
	logger   *logrus.Logger
	registry *knowledge.Registry
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:          "reasoner",
		Short:        "Clinical reasoning engine",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
	}

	rootCmd.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before reading CRE_* variables")
	rootCmd.PersistentFlags().StringVar(&c.knowledgeVersion, "knowledge-version", "", "knowledge base version (default: built-in tables)")

	rootCmd.AddCommand(c.analyzeCmd())
	rootCmd.AddCommand(c.riskCmd())
	rootCmd.AddCommand(c.screeningCmd())
	rootCmd.AddCommand(c.qualityCmd())
	rootCmd.AddCommand(c.serveCmd())
	rootCmd.AddCommand(c.historyCmd())
	rootCmd.AddCommand(c.migrateCmd())

	return rootCmd
}

func (c *cli) init() error {
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", c.envFile, err)
		}
	}

	c.cfg = config.LoadLiteConfig()

	logger, err := app.NewLogger(c.cfg.LogLevel, c.cfg.LogFormat)
	if err != nil {
		return err
	}
	c.logger = logger

	registry, err := knowledge.NewRegistry(c.cfg.KnowledgeDir, c.cfg.KnowledgeCacheSize, logger)
	if err != nil {
		return err
	}
	c.registry = registry
	return nil
}

func (c *cli) engine() (*service.ReasoningEngine, error) {
	if c.knowledgeVersion == "" {
		return service.NewReasoningEngine(c.registry.Default(), c.logger), nil
	}
	kb, err := c.registry.Get(c.knowledgeVersion)
	if err != nil {
		return nil, err
	}
	return service.NewReasoningEngine(kb, c.logger), nil
}

// readInput decodes JSON from the named file, or from stdin when args is empty or "-".
func readInput(cmd *cobra.Command, args []string, v interface{}) error {
	var r io.Reader = cmd.InOrStdin()
	if len(args) > 0 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
