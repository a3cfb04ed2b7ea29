package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dimaosipa/velo/internal/config"
	"github.com/dimaosipa/velo/internal/tapcache"
)

var forceUpdateFlag bool

const (
	defaultTapMaxAge = 24 * time.Hour
	defaultTapRemote = "https://github.com/Homebrew/homebrew-core.git"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Refresh the homebrew/core tap and rebuild its search index",
	Args:  cobra.NoArgs,
	RunE:  runUpdate,
}

func init() {
	updateCmd.Flags().BoolVar(&forceUpdateFlag, "force", false, "Update even if the tap was refreshed recently")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	env, err := newEnvironment()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), config.TapUpdateTimeout())
	defer cancel()

	if err := env.taps.UpdateTap(ctx, "homebrew/core", defaultTapRemote, forceUpdateFlag, defaultTapMaxAge); err != nil {
		return fmt.Errorf("updating homebrew/core: %w", err)
	}

	index, err := env.taps.BuildIndex("homebrew/core")
	if err != nil {
		return fmt.Errorf("rebuilding search index: %w", err)
	}
	if err := index.Save(env.layout.CacheDir(), "homebrew/core"); err != nil {
		return fmt.Errorf("persisting search index: %w", err)
	}

	fmt.Println("Updated homebrew/core.")
	return nil
}

// tapSearchIndex loads the on-disk search index for tap, rebuilding it if
// missing or stale.
func tapSearchIndex(env *environment, tap string) (*tapcache.Index, error) {
	meta, _ := env.taps.Metadata(tap)
	if index, err := tapcache.LoadIndex(env.layout.CacheDir(), tap); err == nil && index.IsFresh(meta.LastUpdated) {
		return index, nil
	}

	index, err := env.taps.BuildIndex(tap)
	if err != nil {
		return nil, fmt.Errorf("building search index for %s: %w", tap, err)
	}
	_ = index.Save(env.layout.CacheDir(), tap)
	return index, nil
}
