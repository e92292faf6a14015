package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/icetop/internal/config"
	"github.com/harun/icetop/internal/daemon"
	"github.com/harun/icetop/internal/logger"
)

var (
	cfgFile       string
	logLevel      string
	pyicebergFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "icetop",
	Short: "IceTop - chat with your Iceberg catalogs",
	Long: `IceTop answers questions about Apache Iceberg catalogs. An LLM (OpenAI,
Anthropic or Gemini) explores namespaces, tables, schemas, snapshots and rows
through read-only catalog tools.`,
	Version:       daemon.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "settings file (default is $HOME/.icetop/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to the settings value")
	rootCmd.PersistentFlags().StringVar(&pyicebergFile, "pyiceberg", "", "pyiceberg catalog file (default is the settings value or $HOME/.pyiceberg.yaml)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return daemon.Version
}

func loadSettings() (*config.Config, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. Console output goes to stderr so
// stdout carries only answers.
func newLogger(cfg *config.Config, console bool) (*logger.Logger, error) {
	logCfg := logger.DefaultConfig()
	logCfg.Console = console
	logCfg.Level = cfg.Logging.Level
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	logCfg.File = cfg.Logging.File
	logCfg.Redaction = cfg.Logging.Redaction
	if cfg.Logging.MaxSize > 0 {
		logCfg.MaxSize = cfg.Logging.MaxSize
	}
	if cfg.Logging.MaxAge > 0 {
		logCfg.MaxAge = cfg.Logging.MaxAge
	}
	return logger.New(logCfg)
}

func newDaemon(cfg *config.Config, log *logger.Logger) (*daemon.Daemon, error) {
	return daemon.New(cfg, log, daemon.Options{
		ConfigPath:    cfgFile,
		PyIcebergPath: pyicebergFile,
	})
}

func pidFilePath() string {
	return daemon.PIDFilePath(cfgFile)
}
