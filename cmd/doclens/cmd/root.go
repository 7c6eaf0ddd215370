// Package cmd provides the CLI commands for doclens.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/doclens/doclens/pkg/version"
)

// configPath is the --config persistent flag.
var configPath string

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doclens",
		Short: "Local RAG server for your documents",
		Long: `doclens ingests PDF, DOCX, Markdown, and text documents into a local
pgvector store and answers questions about them with a local LLM,
streaming responses over HTTP or the Model Context Protocol.

Run 'doclens serve' to start the HTTP server.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("doclens version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to doclens.yaml (default: ./doclens.yaml if present)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newModelsCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI with signal-driven cancellation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
