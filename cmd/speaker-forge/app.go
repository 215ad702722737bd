package main

import (
	"fmt"
	"io"
	"os"

	"github.com/book-expert/logger"
	"github.com/book-expert/speaker-forge/internal/config"
	"github.com/book-expert/speaker-forge/internal/fsutil"
	"github.com/book-expert/speaker-forge/internal/gateway"
	"github.com/book-expert/speaker-forge/internal/speaker"
	"github.com/spf13/cobra"
)

const (
	bootstrapLogFile = "speaker-forge-bootstrap.log"
	logFile          = "speaker-forge.log"
)

// app carries the state shared by all commands of one invocation.
type app struct {
	configPath string
	storePath  string
	out        io.Writer

	cfg   *config.Config
	log   *logger.Logger
	store *speaker.Store
}

func newApp(out io.Writer) *app {
	return &app{out: out}
}

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	err := fsutil.EnsureDir(logPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

// setup loads the configuration and opens the final logger. needNATS makes the
// NATS settings mandatory.
func (a *app) setup(needNATS bool) error {
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		return err
	}

	defer func() {
		_ = bootstrapLog.Close()
	}()

	cfg, err := a.loadConfig(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return err
	}

	if a.storePath != "" {
		cfg.Paths.SpeakersFile = a.storePath
	}

	err = cfg.Validate(needNATS)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.log, err = setupLogger(cfg.Paths.BaseLogsDir, logFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return err
	}

	a.cfg = cfg

	return nil
}

// loadConfig prefers an explicit --config file. Without one it asks the
// configurator, and falls back to defaults when --file names the store.
func (a *app) loadConfig(bootstrapLog *logger.Logger) (*config.Config, error) {
	if a.configPath != "" {
		return config.LoadFile(a.configPath)
	}

	cfg, err := config.Load(bootstrapLog)
	if err == nil {
		return cfg, nil
	}

	if a.storePath == "" {
		return nil, err
	}

	bootstrapLog.Warn("Using defaults, configurator unavailable: %v", err)

	cfg = &config.Config{}
	cfg.ApplyDefaults()

	return cfg, nil
}

// openStore initialises the app and loads the configured speaker file.
func (a *app) openStore() error {
	err := a.setup(false)
	if err != nil {
		return err
	}

	a.store, err = speaker.Open(a.cfg.Paths.SpeakersFile, a.log)
	if err != nil {
		a.log.Error("Failed to load %s: %v", a.cfg.Paths.SpeakersFile, err)

		return fmt.Errorf("%s: %w", speaker.Describe(err), err)
	}

	a.log.Info("Loaded %d speakers from %s", len(a.store.SpeakerNames()), a.store.File())

	return nil
}

func (a *app) save() error {
	err := a.store.SaveFile("")
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", a.store.File(), err)
	}

	a.log.Info("Saved %s", a.store.File())

	return nil
}

func (a *app) modelClient() *gateway.HTTPClient {
	return gateway.NewHTTPClient(a.cfg.Model.ServiceURL, a.cfg.Model.Timeout(), a.cfg.Paths.OutputDir)
}

func (a *app) close() error {
	if a.log == nil {
		return nil
	}

	return a.log.Close()
}

func (a *app) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.out, format, args...)
}

// withStore wraps a command body that needs a loaded store.
func (a *app) withStore(run func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := a.openStore()
		if err != nil {
			return err
		}

		return run(cmd, args)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "speaker-forge",
		Short:         "Manage, mix and serve XTTS speaker profiles",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			err := a.close()
			if err != nil {
				return fmt.Errorf("error closing logger: %w", err)
			}

			return nil
		},
	}

	root.SetOut(a.out)
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "TOML configuration file")
	root.PersistentFlags().StringVarP(&a.storePath, "file", "f", "", "speaker file, overrides paths.speakers_file")

	root.AddCommand(
		newInitCmd(a),
		newListCmd(a),
		newShowCmd(a),
		newRenameCmd(a),
		newEditCmd(a),
		newRemoveCmd(a),
		newMixCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newExtractCmd(a),
		newSpeakCmd(a),
		newPublishCmd(a),
		newFetchCmd(a),
		newServeCmd(a),
	)

	return root
}
