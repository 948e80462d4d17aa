package cli

// This file contains the report UID and fingerprint commands.

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/probedock/probedock-go/footprint"
	"github.com/urfave/cli/v2"
)

func (a *App) uidGenerate(ctx *cli.Context) error {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}

	uid := uuid.NewString()
	if err := cfg.WriteUID(uid); err != nil {
		return err
	}
	a.logger.Debug().Str("path", cfg.UIDPath()).Msg("Report UID written")
	fmt.Fprintln(a.out, uid)
	return nil
}

func (a *App) uidShow(ctx *cli.Context) error {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}

	uid := cfg.CurrentUID()
	if uid == "" {
		a.logger.Info().Msg("No report UID, test runs are reported separately")
		return nil
	}
	fmt.Fprintln(a.out, uid)
	return nil
}

func (a *App) uidClean(ctx *cli.Context) error {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	return cfg.ClearUID()
}

func (a *App) fingerprint(ctx *cli.Context) error {
	if ctx.NArg() != 3 {
		return fmt.Errorf("expected NAMESPACE TYPE MEMBER, got %d arguments", ctx.NArg())
	}
	args := ctx.Args()
	fmt.Fprintln(a.out, footprint.Fingerprint(args.Get(0), args.Get(1), args.Get(2)))
	return nil
}
