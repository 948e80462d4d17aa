package cli

// This file contains the payload commands inspecting saved payloads.

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/olekukonko/tablewriter"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/probedock/probedock-go/config"
	"github.com/probedock/probedock-go/connector"
	"github.com/probedock/probedock-go/model"
	"github.com/probedock/probedock-go/optimize"
	"github.com/probedock/probedock-go/serializer"
	"github.com/urfave/cli/v2"
)

var errMissingName = errors.New("a payload name is required, see the payload list command")

func (a *App) payloadList(ctx *cli.Context) error {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}

	entries, err := a.payloadStore(cfg).LoadAll()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.out, "No saved payloads")
		return nil
	}

	table := tablewriter.NewWriter(a.out)
	table.SetHeader([]string{"NAME", "SAVED", "PROJECT", "VERSION", "RESULTS", "PASSED"})
	for _, e := range entries {
		table.Append([]string{
			e.Name,
			e.SavedAt.Format(time.RFC3339),
			e.Run.ProjectID,
			e.Run.Version,
			strconv.Itoa(len(e.Run.Results)),
			strconv.Itoa(e.Run.Passed()),
		})
	}
	table.Render()
	return nil
}

// loadPayload loads the payload named by the first argument.
func (a *App) loadPayload(ctx *cli.Context, cfg *config.Configuration) (*model.TestRun, error) {
	name := ctx.Args().First()
	if name == "" {
		return nil, errMissingName
	}
	return a.payloadStore(cfg).Load(name)
}

func (a *App) payloadDiff(ctx *cli.Context) error {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	run, err := a.loadPayload(ctx, cfg)
	if err != nil {
		return err
	}

	optimized, err := a.optimizeDryRun(cfg, run)
	if err != nil {
		return err
	}

	diff, err := payloadDiff(run, optimized, ctx.Int("context"))
	if err != nil {
		return err
	}
	if diff == "" {
		fmt.Fprintln(a.out, "Optimization does not change the payload")
		return nil
	}
	fmt.Fprint(a.out, diff)
	return nil
}

// optimizeDryRun optimizes run against the configured store without
// recording anything.
func (a *App) optimizeDryRun(cfg *config.Configuration, run *model.TestRun) (model.Payload, error) {
	store, err := connector.DefaultRegistry().New(cfg.OptimizerStore(), a.logger)
	if err != nil {
		return nil, err
	}
	if err := store.Start(cfg.StoreConfig()); err != nil {
		return nil, fmt.Errorf("failed to start optimizer store: %w", err)
	}
	defer store.Stop(false)

	o, err := optimize.For(a.logger, run)
	if err != nil {
		return nil, err
	}
	return o.Optimize(store, run)
}

func payloadDiff(full, optimized model.Payload, context int) (string, error) {
	a, err := serializer.Marshal(serializer.JSON{}, full, true)
	if err != nil {
		return "", err
	}
	b, err := serializer.Marshal(serializer.JSON{}, optimized, true)
	if err != nil {
		return "", err
	}

	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a)),
		B:        difflib.SplitLines(string(b)),
		FromFile: "full",
		ToFile:   "optimized",
		Context:  context,
	})
}

func (a *App) payloadCurl(ctx *cli.Context) error {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	name := ctx.Args().First()
	if name == "" {
		return errMissingName
	}

	// Fail early on a missing or corrupt payload
	store := a.payloadStore(cfg)
	if _, err := store.Load(name); err != nil {
		return err
	}

	server, err := cfg.Server()
	if err != nil {
		return err
	}

	target := ctx.String("url")
	if target == "" {
		conn, err := a.newConnector(cfg)
		if err != nil {
			return err
		}
		u, err := conn.PayloadResourceURL(ctx.Context)
		if err != nil {
			return err
		}
		target = u.String()
	}

	fmt.Fprintln(a.out, curlCommand(target, server.APIToken, store.Path(name)))
	return nil
}

func curlCommand(target, token, path string) string {
	args := []string{
		"curl", "-X", "POST",
		"-H", "Content-Type: " + serializer.ContentType,
	}
	if token != "" {
		args = append(args, "-H", "Authorization: Bearer "+token)
	}
	args = append(args, "--data-binary", "@"+path, target)
	return shellescape.QuoteCommand(args)
}
