// Package cli implements the rebuild command-line surface: build-file
// discovery, subsystem wiring, and exit-code mapping (spec.md §6,
// SPEC_FULL.md §2.4, §8.2).
package cli

import (
	"github.com/spf13/cobra"
)

var (
	version string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "rebuild <target>",
	Short: "rebuild - a build system with constructive-trace caching",
	Long: `rebuild builds a target defined in BUILD.lua.

Recipes may declare static dependencies up front or discover them
dynamically by suspending on other targets mid-run; a prior build's
recorded trace is reused whenever every recorded dependency still hashes
to the value it had when the trace was recorded.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
			return &usageError{msg: err.Error()}
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
	RunE: func(cmd *cobra.Command, args []string) error {
		target := ""
		if len(args) == 1 {
			target = args[0]
		}
		return runBuild(target)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print debug-level build events")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{msg: err.Error()}
	})
}

// SetVersion sets the version string cobra reports for --version.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute runs the root command and returns its error, if any. Callers
// map the returned error to an exit code via ExitCode.
func Execute() error {
	return rootCmd.Execute()
}
