package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newChatCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with the model and its MCP tools",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := newBridge(cmd, flags)
			if err != nil {
				return err
			}
			defer b.Close()

			st := newStyles()
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "%s\n", st.dim.Render(fmt.Sprintf("connected: %d tools from %d servers, /quit to exit", len(b.Tools()), len(b.Sessions()))))

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, st.prompt.Render("you> "))
				if !scanner.Scan() {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "/quit" || line == "/exit" {
					break
				}

				response := b.ProcessMessage(cmd.Context(), line)
				fmt.Fprintf(out, "%s\n", st.response.Render(response))
			}
			return scanner.Err()
		},
	}
}
