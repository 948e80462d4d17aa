package cli

// This file contains the cache commands managing the optimizer cache.

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/probedock/probedock-go/cache"
	"github.com/probedock/probedock-go/footprint"
	"github.com/urfave/cli/v2"
)

func (a *App) cacheList(ctx *cli.Context) error {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}

	entries, err := cache.List(a.logger, cfg.CacheDir())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(a.out, "No cached footprints in %s\n", cfg.CacheDir())
		return nil
	}

	// Caches are stored per server URL footprint, name the selected one
	selected := ""
	if url := cfg.StoreConfig().ServerURL; url != "" {
		selected = footprint.Footprint(url)
	}

	table := tablewriter.NewWriter(a.out)
	table.SetHeader([]string{"SERVER", "PROJECT", "VERSION", "TESTS", "PATH"})
	for _, e := range entries {
		server := e.Server
		if server == selected {
			server = cfg.SelectedServer()
		} else if len(server) > 8 {
			server = server[:8]
		}

		tests := strconv.Itoa(e.Tests)
		if e.Err != nil {
			tests = "corrupt"
		}
		table.Append([]string{server, e.Project, e.Version, tests, e.Path})
	}
	table.Render()
	return nil
}

func (a *App) cacheClean(ctx *cli.Context) error {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}

	store := cache.NewFileStore(a.logger)
	if err := store.Start(cfg.StoreConfig()); err != nil {
		return err
	}
	defer store.Stop(false)

	if err := store.CleanCaches(); err != nil {
		return err
	}
	a.logger.Info().Str("path", cfg.CacheDir()).Msg("Optimizer cache cleaned")
	return nil
}
