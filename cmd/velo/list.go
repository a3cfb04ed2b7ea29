package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed packages and their versions",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	env, err := newEnvironment()
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(env.layout.CellarDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading Cellar: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		versions, err := env.layout.InstalledVersions(name)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			continue
		}
		optTarget, _ := os.Readlink(env.layout.OptPath(name))
		defaultVersion := filepath.Base(optTarget)
		for _, v := range versions {
			marker := " "
			if v == defaultVersion {
				marker = "*"
			}
			fmt.Printf("%s %s %s\n", marker, name, v)
		}
	}
	return nil
}
