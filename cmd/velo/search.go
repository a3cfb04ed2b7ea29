package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var includeDescriptionsFlag bool

var searchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Search the tap index for formulae matching a term",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().BoolVar(&includeDescriptionsFlag, "descriptions", false, "Also match against formula descriptions")
}

func runSearch(cmd *cobra.Command, args []string) error {
	env, err := newEnvironment()
	if err != nil {
		return err
	}

	index, err := tapSearchIndex(env, "homebrew/core")
	if err != nil {
		return err
	}

	results := index.Search(args[0], includeDescriptionsFlag)
	if len(results) == 0 {
		fmt.Println("No formulae found.")
		return nil
	}
	for _, name := range results {
		fmt.Println(name)
	}
	return nil
}
