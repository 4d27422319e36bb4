// pipemgr - a procedural pipeline supervisor for long-running workflows
// composed of external shell commands. It serializes target production
// with file locks, resumes interrupted runs, and keeps durable status
// flags for external observers.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/specterops/pipemgr/internal/config"
	"github.com/specterops/pipemgr/internal/logger"
	"github.com/specterops/pipemgr/internal/manager"
	"github.com/specterops/pipemgr/internal/recipe"
	"github.com/specterops/pipemgr/internal/watch"
)

// Version information
const Version = "0.1.0"

// CLI flags
var (
	// Output options
	debug    bool
	noColors bool
	logfile  string

	// Run behavior
	outfolder            string
	outputParent         string
	recoverMode          bool
	forceFollow          bool
	manualClean          bool
	overwriteCheckpoints bool
	multi                bool
	dryRun               bool

	// Resources and configuration
	cores      int
	mem        int
	configFile string
	envFile    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pipemgr <recipe.yaml>",
		Short: "pipemgr - supervise a procedural pipeline of shell commands",
		Long: `pipemgr runs a pipeline defined in a YAML recipe against a shared
output folder. Concurrent pipemgr processes cannot corrupt each other's
outputs, interrupted runs resume without redoing completed work, and
on-disk status flags reflect the run's state for external observers.`,
		Args:    cobra.ExactArgs(1),
		Run:     run,
		Version: Version,
	}

	rootCmd.Flags().BoolVar(&debug, "debug", false, "Debug mode")
	rootCmd.Flags().BoolVar(&noColors, "no-colors", false, "Disable ANSI escape codes")
	rootCmd.Flags().StringVar(&logfile, "logfile", "", "Extra log file to write to (rotated, not appended)")

	rootCmd.Flags().StringVarP(&outfolder, "outfolder", "o", "", "Output folder (overrides the recipe)")
	rootCmd.Flags().StringVar(&outputParent, "output-parent", "", "Folder in which the output folder will live")
	rootCmd.Flags().BoolVarP(&recoverMode, "recover", "R", false, "Overwrite locks to recover from a failed run")
	rootCmd.Flags().BoolVarP(&forceFollow, "force-follow", "F", false, "Run follow-ups even when the command is skipped")
	rootCmd.Flags().BoolVar(&manualClean, "manual-clean", false, "Never delete intermediate files automatically")
	rootCmd.Flags().BoolVarP(&overwriteCheckpoints, "new-start", "N", false, "Overwrite checkpoints and redo all stages")
	rootCmd.Flags().BoolVar(&multi, "multi", false, "Interactive mode: do not mirror output to the pipeline log")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Release commands without waiting for them")

	rootCmd.Flags().IntVarP(&cores, "cores", "P", 1, "Number of cores to hint to commands")
	rootCmd.Flags().IntVarP(&mem, "mem", "M", 1000, "Memory limit in megabytes to hint to commands")
	rootCmd.Flags().StringVarP(&configFile, "config", "C", "", "Pipeline YAML config file")
	rootCmd.Flags().StringVar(&envFile, "env-file", "", "Environment file to load before running")

	watchCmd := &cobra.Command{
		Use:   "watch <outfolder>",
		Short: "Follow the status flags of pipelines in an output folder",
		Args:  cobra.ExactArgs(1),
		Run:   runWatch,
	}
	watchCmd.Flags().BoolVar(&debug, "debug", false, "Debug mode")
	watchCmd.Flags().BoolVar(&noColors, "no-colors", false, "Disable ANSI escape codes")
	rootCmd.AddCommand(watchCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadEnvironment loads an env file when present. An explicit --env-file
// must exist; the default .env is optional.
func loadEnvironment(log *logger.Logger) error {
	if envFile != "" {
		return godotenv.Load(envFile)
	}
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.Warning("Could not load .env: " + err.Error())
		}
	}
	return nil
}

func run(cmd *cobra.Command, args []string) {
	cfg := buildConfig()
	log := logger.New(cfg)

	if err := loadEnvironment(log); err != nil {
		log.Critical(err.Error())
		os.Exit(1)
	}

	if logfile != "" {
		if err := log.AttachFileRotating(logfile); err != nil {
			log.Critical(err.Error())
			os.Exit(1)
		}
	}

	r, err := recipe.Load(args[0])
	if err != nil {
		log.Critical(err.Error())
		os.Exit(1)
	}

	folder := r.Outfolder
	if outfolder != "" {
		folder = outfolder
	}
	if folder == "" {
		log.Critical("No output folder: set outfolder in the recipe or pass --outfolder")
		os.Exit(1)
	}

	m, err := manager.New(manager.Options{
		Name:                 r.Name,
		Outfolder:            folder,
		OutputParent:         outputParent,
		Version:              r.Version,
		Args:                 map[string]string{"recipe": args[0]},
		Multi:                multi,
		ManualClean:          manualClean,
		Recover:              recoverMode,
		ForceFollow:          forceFollow,
		OverwriteCheckpoints: overwriteCheckpoints,
		DryRun:               dryRun,
		Resources:            config.Resources{Cores: cores, Mem: mem},
		ConfigFile:           configFile,
		Config:               cfg,
		Logger:               log,
	})
	if err != nil {
		log.Critical(err.Error())
		os.Exit(1)
	}
	defer m.Shutdown()

	if err := recipe.Execute(m, r); err != nil {
		log.Error(err.Error())
		m.Shutdown()
		os.Exit(1)
	}

	if err := m.Complete(); err != nil {
		log.Error(err.Error())
		m.Shutdown()
		os.Exit(1)
	}
}

func runWatch(cmd *cobra.Command, args []string) {
	cfg := buildConfig()
	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info(fmt.Sprintf("Watching flags in \"%s\"", args[0]))
	w := watch.New(args[0], log)
	if err := w.Run(ctx); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

// buildConfig assembles the output config from the CLI flags, leaving the
// color default to terminal detection unless --no-colors is given.
func buildConfig() *config.Config {
	if noColors {
		return config.NewConfig(debug, &noColors)
	}
	return config.NewConfig(debug, nil)
}
