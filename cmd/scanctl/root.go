package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"apex-guard/internal/config"
	"apex-guard/internal/logging"
)

// version is set at build time with -ldflags.
var version = "dev"

// cliState is shared by subcommands once the root pre-run has loaded it.
type cliState struct {
	verbose bool
	cfg     *config.AppConfig
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	state := &cliState{}

	root := &cobra.Command{
		Use:           "scanctl",
		Short:         "Scan local source files for vulnerabilities and quantum-weak crypto",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.LoadDotEnv()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			state.cfg = cfg

			level := "warn"
			if state.verbose {
				level = "debug"
			}
			state.logger = logging.New(logging.Options{Level: level}, zapcore.Lock(os.Stderr))
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&state.verbose, "verbose", "v", false, "log pipeline details to stderr")
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	root.AddCommand(
		newScanCmd(state),
		newRulesCmd(state),
		newMigrateCmd(state),
	)
	return root
}
