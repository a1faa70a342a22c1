package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newToolsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Connect to the configured MCP servers and list their tools",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := newBridge(cmd, flags)
			if err != nil {
				return err
			}
			defer b.Close()

			st := newStyles()
			out := cmd.OutOrStdout()

			descriptors := b.Tools()
			if len(descriptors) == 0 {
				fmt.Fprintln(out, st.dim.Render("no tools available"))
				return nil
			}

			for _, descriptor := range descriptors {
				owner := "?"
				if invoker, ok := b.OwnerOf(descriptor.Name); ok {
					owner = invoker.Name()
				}
				fmt.Fprintf(out, "%s %s\n", st.toolName.Render(descriptor.Name), st.dim.Render("("+owner+")"))
				if descriptor.Description != "" {
					fmt.Fprintf(out, "  %s\n", st.response.Render(descriptor.Description))
				}
			}
			for _, session := range b.Sessions() {
				info := session.ServerInfo()
				if info.Name != "" {
					fmt.Fprintln(out, st.dim.Render(fmt.Sprintf("%s: %s %s", session.Name(), info.Name, info.Version)))
				}
			}
			fmt.Fprintln(out, st.dim.Render(fmt.Sprintf("%d tools from %d servers", len(descriptors), len(b.Sessions()))))
			return nil
		},
	}
}
