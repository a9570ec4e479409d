package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"hotlib"
	"hotlib/internal/cli"
	"hotlib/internal/config"
	"hotlib/internal/logging"
	"hotlib/internal/version"

	"github.com/spf13/cobra"
)

type commandDeps struct {
	Stdout  io.Writer
	Stderr  io.Writer
	Environ []string
	// Engine seeds every engine a command starts. Tests swap in scripted
	// builders and in-memory loaders here.
	Engine hotlib.EngineOptions
}

func defaultCommandDeps() commandDeps {
	return commandDeps{
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Environ: os.Environ(),
	}
}

func run(ctx context.Context, args []string, deps commandDeps) int {
	root := newRootCmd(deps)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(deps.Stderr, "hotlib: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(deps commandDeps) *cobra.Command {
	root := &cobra.Command{
		Use:           "hotlib",
		Short:         "Rebuild and reload Go plugins while their sources change",
		Version:       version.GetVersionInfo().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(deps.Stdout)
	root.SetErr(deps.Stderr)
	root.SetVersionTemplate("{{.Version}}\n")

	flags := cli.AddSettingsFlags(root.PersistentFlags())
	load := func() (config.Settings, *logging.Logger, error) {
		settings, err := config.LoadWithEnv(flags.ConfigPath, deps.Environ, flags.Overrides())
		if err != nil {
			return config.Settings{}, nil, err
		}
		return settings, newLogger(settings, deps.Stderr), nil
	}

	var calls []string
	watchCmd := &cobra.Command{
		Use:     "watch <dir>...",
		Short:   "Watch packages, rebuilding and reloading on change",
		Example: "  hotlib watch ./plugins/greeter --symbol Greet --call Greet",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, logger, err := load()
			if err != nil {
				return err
			}
			return runWatch(cmd.Context(), watchRequest{
				Dirs:     args,
				Calls:    calls,
				Settings: settings,
				Logger:   logger,
				Out:      cmd.OutOrStdout(),
				Engine:   deps.Engine,
			})
		},
	}
	watchCmd.Flags().StringArrayVar(&calls, "call", nil, "Call this exported function after every reload (repeatable)")

	buildCmd := &cobra.Command{
		Use:   "build <dir>",
		Short: "Build a package once and check that it loads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, logger, err := load()
			if err != nil {
				return err
			}
			return runBuild(cmd.Context(), buildRequest{
				Dir:      args[0],
				Settings: settings,
				Logger:   logger,
				Out:      cmd.OutOrStdout(),
				Engine:   deps.Engine,
			})
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.GetVersionInfo().String())
			return err
		},
	}

	root.AddCommand(watchCmd, buildCmd, versionCmd)
	return root
}
