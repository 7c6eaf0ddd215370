package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/doclens/doclens/internal/state"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show corpus and connectivity status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := openStack(ctx, false)
			if err != nil {
				return err
			}
			defer s.close()

			out := cmd.OutOrStdout()

			ok, detail := s.llm.CheckConnection(ctx)
			if ok {
				fmt.Fprintf(out, "LLM server:  ok (%s)\n", s.cfg.LLM.BaseURL)
			} else {
				fmt.Fprintf(out, "LLM server:  unreachable (%s)\n", detail)
			}

			if err := s.store.Ping(ctx); err == nil {
				fmt.Fprintln(out, "Database:    ok")
			} else {
				fmt.Fprintf(out, "Database:    unreachable (%v)\n", err)
			}

			docs, err := s.store.GetDocumentCount(ctx)
			if err == nil {
				chunks, _ := s.store.GetChunkCount(ctx)
				fmt.Fprintf(out, "Documents:   %d (%d chunks)\n", docs, chunks)
			}

			if st, err := state.Open(s.cfg.Logging.DataDir); err == nil {
				if model := st.ActiveModel(); model != "" {
					fmt.Fprintf(out, "Chat model:  %s\n", model)
				}
			}
			fmt.Fprintf(out, "Embeddings:  %s\n", s.embeddingModel)
			return nil
		},
	}
}
