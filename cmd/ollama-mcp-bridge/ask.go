package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newAskCmd(flags *rootFlags) *cobra.Command {
	var showCalls bool

	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Run a single message through the bridge and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBridge(cmd, flags)
			if err != nil {
				return err
			}
			defer b.Close()

			st := newStyles()
			out := cmd.OutOrStdout()

			result, err := b.Run(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			fmt.Fprintln(out, st.response.Render(result.Response))

			if showCalls && len(result.ToolCalls) > 0 {
				fmt.Fprintln(out)
				for i, record := range result.ToolCalls {
					header := fmt.Sprintf("[%d] %s(%s)", i+1, record.Name, record.Arguments)
					fmt.Fprintln(out, st.toolName.Render(header))

					body := record.Result
					if len(body) > 200 {
						body = body[:200] + "..."
					}
					if record.IsError {
						fmt.Fprintf(out, "  %s\n", st.toolError.Render(body))
					} else {
						fmt.Fprintf(out, "  %s\n", st.dim.Render(body))
					}
				}
				fmt.Fprintln(out, st.dim.Render(fmt.Sprintf("iterations: %d", result.Iterations)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showCalls, "show-calls", false, "print the tool call log after the answer")
	return cmd
}
