package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var allVersionsFlag bool

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <package>",
	Short: "Remove an installed package",
	Args:  cobra.ExactArgs(1),
	RunE:  runUninstall,
}

func init() {
	uninstallCmd.Flags().BoolVar(&allVersionsFlag, "all-versions", false, "Remove every installed version")
}

func runUninstall(cmd *cobra.Command, args []string) error {
	env, err := newEnvironment()
	if err != nil {
		return err
	}
	name := args[0]

	versions, err := env.layout.InstalledVersions(name)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		return fmt.Errorf("%s is not installed", name)
	}

	if allVersionsFlag {
		for _, v := range versions {
			if err := env.installer.Uninstall(name, v); err != nil {
				return err
			}
		}
		fmt.Printf("Removed all versions of %s.\n", name)
		return nil
	}

	latest := versions[len(versions)-1]
	if err := env.installer.Uninstall(name, latest); err != nil {
		return err
	}
	fmt.Printf("Removed %s@%s.\n", name, latest)
	return nil
}
