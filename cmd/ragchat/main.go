// Package main is the entry point for the ragchat CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/ragchat/internal/config"
	"github.com/flemzord/ragchat/internal/core"
	"github.com/flemzord/ragchat/pkg/app"

	_ "github.com/flemzord/ragchat/internal/gateway"
	_ "github.com/flemzord/ragchat/modules/provider/openai_compatible"
	_ "github.com/flemzord/ragchat/modules/retrieval/http"
	_ "github.com/flemzord/ragchat/modules/retrieval/sqlite"
	_ "github.com/flemzord/ragchat/modules/store/sqlite"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ragchat",
		Short:         "A retrieval-augmented chat service with session memory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.PersistentFlags().String("data-dir", "", "Override the data directory")
	root.AddCommand(
		versionCmd(),
		startCmd(),
		configCmd(),
		initCmd(),
		corpusCmd(),
		mcpCmd(),
		serviceCmd(),
	)
	return root
}

// runParams collects the flags shared by every command that runs the app.
func runParams(cmd *cobra.Command) app.RunParams {
	cfgPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	return app.RunParams{
		ConfigPath: cfgPath,
		DataDir:    dataDir,
		Version:    version,
		Commit:     commit,
		Date:       date,
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ragchat %s (commit: %s, built: %s)\n", version, commit, date)
			fmt.Fprintln(out, "\nCompiled modules:")
			for _, mod := range core.GetModules() {
				fmt.Fprintf(out, "  %s\n", mod.ID)
			}
		},
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start ragchat with all configured modules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			params := runParams(cmd)
			params.Debug, _ = cmd.Flags().GetBool("debug")
			return app.Run(params)
		},
	}
	cmd.Flags().Bool("debug", false, "Log at debug level")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	check := &cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration and provision its modules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			show, _ := cmd.Flags().GetBool("show")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			return checkConfig(cmd.Context(), cmd.OutOrStdout(), args[0], dataDir, show)
		},
	}
	check.Flags().Bool("show", false, "Print the resolved configuration with secrets redacted")
	cmd.AddCommand(check)
	return cmd
}

func checkConfig(ctx context.Context, out io.Writer, path, dataDir string, show bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := app.Build(ctx, app.RunParams{
		ConfigPath: path,
		DataDir:    dataDir,
		Version:    version,
		Headless:   true,
		LogOutput:  io.Discard,
	})
	if err != nil {
		return err
	}
	defer func() {
		rt.App.Discard()
		rt.Close(ctx)
	}()

	ids := config.Resolve(rt.Config)
	fmt.Fprintf(out, "Configuration OK (%d modules)\n", len(ids))
	for _, id := range ids {
		fmt.Fprintf(out, "  %s\n", id)
	}
	fmt.Fprintf(out, "Retrieval: %v\n", rt.Orchestrator.RAGEnabled())

	if !show {
		return nil
	}
	redacted, err := config.Redacted(rt.Config)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(redacted); err != nil {
		return err
	}
	return enc.Close()
}
