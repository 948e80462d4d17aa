package cli

// This file contains the publish command sending saved payloads.

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

func (a *App) publish(ctx *cli.Context) error {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	store := a.payloadStore(cfg)
	entries, err := store.LoadAll()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		a.logger.Info().Str("dir", store.Dir()).Msg("No saved payload to publish")
		return nil
	}

	conn, err := a.newConnector(cfg)
	if err != nil {
		return err
	}

	failed := 0
	for _, entry := range entries {
		logger := a.logger.With().Str("name", entry.Name).Logger()

		ok, err := conn.Send(ctx.Context, entry.Run)
		if err != nil {
			return fmt.Errorf("failed to publish %s: %w", entry.Name, err)
		}
		if !ok {
			logger.Warn().Msg("Payload kept for the next publish")
			failed++
			continue
		}

		if err := store.Remove(entry.Name); err != nil {
			return err
		}
		logger.Debug().Msg("Published payload removed")
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d payloads could not be published", failed, len(entries))
	}
	a.logger.Info().Int("payloads", len(entries)).Msg("All saved payloads published")
	return nil
}
