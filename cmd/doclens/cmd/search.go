package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/doclens/doclens/internal/retrieval"
)

func newSearchCmd() *cobra.Command {
	var (
		topK     int
		fileType string
		format   string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the ingested documents",
		Long: `Run the retrieval pipeline against the corpus and print the ranked
chunks. Useful for inspecting what the chat endpoint would see.

Examples:
  doclens search "vacation policy"
  doclens search "refund window" --top-k 3 --format json
  doclens search "quarterly numbers" --file-type .pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			query := strings.Join(args, " ")

			s, err := openStack(ctx, false)
			if err != nil {
				return err
			}
			defer s.close()

			retriever := retrieval.New(s.store, s.llm, nil, nil,
				s.cfg.Retrieval, s.embeddingModel, s.logger)

			results, err := retriever.Retrieve(ctx, query, retrieval.Options{
				TopK:           topK,
				FileTypeFilter: fileType,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}

			if len(results) == 0 {
				fmt.Fprintln(out, "No results.")
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(out, "%d. %s (chunk %d, %.1f%%)\n", i+1, r.Filename, r.ChunkIndex, r.Similarity*100)
				fmt.Fprintf(out, "   %s\n", firstLine(r.ChunkText, 160))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "n", 0, "Maximum results (default from config)")
	cmd.Flags().StringVar(&fileType, "file-type", "", "Restrict to one extension (.pdf, .txt, .docx, .md)")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

// firstLine flattens text to a single bounded line for terminal output.
func firstLine(text string, max int) string {
	flat := strings.Join(strings.Fields(text), " ")
	runes := []rune(flat)
	if len(runes) > max {
		return string(runes[:max]) + "…"
	}
	return flat
}
