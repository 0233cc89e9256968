package main

import (
	"fmt"
	"io"
	"os"

	"github.com/book-expert/hntm-service/internal/config"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Flag names.
const (
	flagConfig = "config"
	flagLogDir = "log-dir"
)

const (
	logFileName = "hntmctl.log"
	yamlIndent  = 2
)

// app carries state shared by all subcommands.
type app struct {
	configPath string
	logDir     string
	natsServer string

	cfg config.Config
	log *logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "hntmctl",
		Short: "Inspect HNTM frame files and train Gaussian mixture models",
		Long: `hntmctl works on the binary formats of the hntm-service.

Frame sequences (.hntm) hold harmonic-plus-noise speech frames; mixture
models (.gmm) hold Gaussian mixtures trained on feature vectors.

Defaults for training and analysis can be taken from the [gmm], [analysis]
and [paths] sections of a project.toml given with --config.`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	root.PersistentFlags().StringVar(&a.configPath, flagConfig, "", "Path to project.toml")
	root.PersistentFlags().StringVar(&a.logDir, flagLogDir, "", "Directory for the log file (defaults to paths.base_logs_dir or the temp dir)")
	root.PersistentFlags().StringVar(&a.natsServer, flagNATSURL, "", "NATS server for push and remove (defaults to nats.url)")

	root.AddCommand(newGMMCmd(a), newFramesCmd(a))

	return root
}

// setup reads the optional config file and opens the log.
func (a *app) setup(_ *cobra.Command, _ []string) error {
	if a.configPath != "" {
		data, err := os.ReadFile(a.configPath)
		if err != nil {
			return fmt.Errorf("failed to read config '%s': %w", a.configPath, err)
		}

		err = toml.Unmarshal(data, &a.cfg)
		if err != nil {
			return fmt.Errorf("failed to parse config '%s': %w", a.configPath, err)
		}
	}

	logDir := a.logDir
	if logDir == "" {
		logDir = a.cfg.Paths.BaseLogsDir
	}

	if logDir == "" {
		logDir = os.TempDir()
	}

	log, err := logger.New(logDir, logFileName)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	a.log = log

	return nil
}

func (a *app) teardown(_ *cobra.Command, _ []string) error {
	if a.log == nil {
		return nil
	}

	err := a.log.Close()
	if err != nil {
		return fmt.Errorf("failed to close logger: %w", err)
	}

	return nil
}

// writeYAML renders v as a YAML document.
func writeYAML(w io.Writer, v any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(yamlIndent)

	err := encoder.Encode(v)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	err = encoder.Close()
	if err != nil {
		return fmt.Errorf("failed to flush report: %w", err)
	}

	return nil
}
