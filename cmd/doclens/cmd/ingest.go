package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/doclens/doclens/internal/ingest"
)

func newIngestCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest documents from the command line",
		Long: `Ingest one or more documents directly, without the HTTP server.
Supported formats: .pdf, .txt, .docx, .md.

Examples:
  doclens ingest handbook.pdf
  doclens ingest docs/*.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := openStack(ctx, false)
			if err != nil {
				return err
			}
			defer s.close()

			pipeline := s.pipeline()
			out := cmd.OutOrStdout()

			failures := 0
			for _, path := range args {
				content, err := os.ReadFile(path)
				if err != nil {
					fmt.Fprintf(out, "✗ %s: %v\n", path, err)
					failures++
					continue
				}

				var progress ingest.ProgressFunc
				if !quiet {
					progress = func(ev ingest.Event) {
						if ev.Type == ingest.EventMessage {
							fmt.Fprintf(out, "  %s\n", ev.Message)
						}
					}
				}

				res, err := pipeline.Ingest(ctx, filepath.Base(path), content, progress)
				if err != nil {
					fmt.Fprintf(out, "✗ %s: %v\n", path, err)
					failures++
					continue
				}
				fmt.Fprintf(out, "✓ %s: %d pages, %d chunks\n", res.Filename, res.Pages, res.Chunks)
			}

			if failures > 0 {
				return fmt.Errorf("%d of %d files failed", failures, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress messages")
	return cmd
}
