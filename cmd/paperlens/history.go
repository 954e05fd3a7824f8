package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently analyzed papers, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		entries := application.History.List()
		if len(entries) == 0 {
			fmt.Println(muted("No papers analyzed yet."))
			return nil
		}

		for i, a := range entries {
			fmt.Printf("%2d. %s\n", i+1, heading(a.Title))
			fmt.Printf("    %s  %s  %s\n",
				muted(a.Fingerprint),
				a.FileName,
				muted(a.AnalyzedAt.Format("2006-01-02 15:04")),
			)
			if len(a.Tags) > 0 {
				fmt.Printf("    %s %s\n", label("tags:"), strings.Join(a.Tags, ", "))
			}
		}
		fmt.Printf("\n%s %s\n", label("Persona:"), application.History.Persona())
		return nil
	},
}

var tagCmd = &cobra.Command{
	Use:   "tag <fingerprint> [tag...]",
	Short: "Replace the tags of a history entry",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return application.Sessions.UpdateTags(cmd.Context(), args[0], args[1:])
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(tagCmd)
}
