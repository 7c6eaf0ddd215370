package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newModelsCmd() *cobra.Command {
	var test string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models available on the LLM server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := openStack(ctx, false)
			if err != nil {
				return err
			}
			defer s.close()

			out := cmd.OutOrStdout()

			if test != "" {
				sample, err := s.llm.TestModel(ctx, test)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s responds: %s\n", test, sample)
				return nil
			}

			models, err := s.llm.ListModels(ctx)
			if err != nil {
				return err
			}
			if len(models) == 0 {
				fmt.Fprintln(out, "No models installed.")
				return nil
			}
			for _, m := range models {
				fmt.Fprintf(out, "%-40s %6.1f GB\n", m.Name, float64(m.Size)/(1<<30))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&test, "test", "", "Send a test prompt to the named model")
	return cmd
}
