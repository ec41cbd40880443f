// Command trainkit trains declaratively described networks.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/born-ml/trainkit/internal/config"
	"github.com/born-ml/trainkit/internal/server"
)

var version = "v0.1.0-dev"

func main() {
	if err := NewCLI().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func appendEnvDocs(cmd *cobra.Command, envs []config.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.LogLevel()}))
}

// NewCLI builds the root command.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false
	server.Version = version

	rootCmd := &cobra.Command{
		Use:           "trainkit",
		Short:         "Train declaratively described neural networks",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if v, _ := cmd.Flags().GetBool("version"); v {
				versionHandler(cmd, args)
				return
			}
			fmt.Fprint(cmd.OutOrStdout(), cmd.UsageString())
		},
	}
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	trainCmd := newTrainCmd()
	describeCmd := newDescribeCmd()
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run:   versionHandler,
	}

	envVars := config.AsMap()
	appendEnvDocs(trainCmd, []config.EnvVar{
		envVars["TRAINKIT_DEBUG"],
		envVars["TRAINKIT_LISTEN"],
		envVars["TRAINKIT_DB"],
		envVars["TRAINKIT_EPOCHS"],
		envVars["TRAINKIT_BATCH_SIZE"],
		envVars["TRAINKIT_PAUSED"],
	})
	appendEnvDocs(describeCmd, []config.EnvVar{envVars["TRAINKIT_DEBUG"]})

	rootCmd.AddCommand(trainCmd, describeCmd, versionCmd)
	return rootCmd
}

func versionHandler(cmd *cobra.Command, _ []string) {
	fmt.Fprintf(cmd.OutOrStdout(), "trainkit version %s\n", version)
}
