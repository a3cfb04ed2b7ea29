// Command velo is the CLI entry point wiring together the layout,
// receipt store, tap cache, resolver, downloader, and installer. Argument
// parsing and user I/O are themselves out of scope per the core design
// (§1); this file is the thinnest layer that exercises the core.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dimaosipa/velo/internal/buildinfo"
	"github.com/dimaosipa/velo/internal/log"
)

var (
	quietFlag   bool
	verboseFlag bool
	debugFlag   bool
	prefixFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "velo",
	Short: "A binary package manager for macOS Apple Silicon",
	Long: `velo installs prebuilt Homebrew-style bottles into an isolated
prefix: it resolves dependencies, downloads bottles with checksum
verification, and wires up symlinks without touching a system Homebrew
installation.`,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Show errors only")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Show verbose output")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Show debug output")
	rootCmd.PersistentFlags().StringVar(&prefixFlag, "prefix", "", "velo prefix (defaults to ~/.velo)")

	rootCmd.PersistentPreRun = initLogger
	rootCmd.Version = buildinfo.Version()

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(updateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogger(cmd *cobra.Command, args []string) {
	level := determineLogLevel()
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	log.SetDefault(log.New(handler))
}

func determineLogLevel() slog.Level {
	if debugFlag {
		return slog.LevelDebug
	}
	if verboseFlag {
		return slog.LevelInfo
	}
	if quietFlag {
		return slog.LevelError
	}
	return log.LevelFromEnv()
}
