package cli

// This file contains the test command running go test and reporting
// the results.

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	gocmd "github.com/probedock/probedock-go/cli/go"
	"github.com/probedock/probedock-go/config"
	"github.com/probedock/probedock-go/model"
	"github.com/probedock/probedock-go/probe"
	"github.com/probedock/probedock-go/scm"
	"github.com/urfave/cli/v2"
)

func (a *App) test(ctx *cli.Context) error {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}

	args, err := goTestArgs(ctx.Args().Slice())
	if err != nil {
		return err
	}
	if len(args) > 0 {
		a.logger.Debug().Strs("args", args).Msg("go test arguments")
	}

	// Validate the package patterns before running anything
	for _, pattern := range packagePatterns(args) {
		if _, err := gocmd.List(ctx.Context, pattern); err != nil {
			return err
		}
	}

	runContext := model.NewContext()
	p := a.newProbe(cfg)

	testErr := a.runGoTest(ctx.Context, args, p)
	runContext.Enrich()

	var exitErr *exec.ExitError
	if testErr != nil && !errors.As(testErr, &exitErr) {
		return testErr
	}

	if err := a.report(ctx.Context, cfg, p, runContext); err != nil {
		a.logger.Error().Err(err).Msg("Unable to report the test results")
		if exitErr == nil {
			return err
		}
	}

	if exitErr != nil {
		return cli.Exit("", exitErr.ExitCode())
	}
	return nil
}

func (a *App) newProbe(cfg *config.Configuration) *probe.Probe {
	return probe.New(a.logger,
		probe.WithCategory(cfg.Category()),
		probe.WithTags(cfg.Tags()...),
		probe.WithTickets(cfg.Tickets()...),
		probe.WithContributors(cfg.Contributors()...),
	)
}

// runGoTest feeds the output of go test -json into p. The go test error
// is returned once the whole output is consumed.
func (a *App) runGoTest(ctx context.Context, args []string, p *probe.Probe) error {
	cmd := gocmd.TestJSON(ctx, args...)
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to capture go test output: %w", err)
	}

	a.logger.Debug().Str("command", cmd.String()).Msg("Executing go test")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start go test: %w", err)
	}

	readErr := p.Read(stdout, a.out)
	waitErr := cmd.Wait()
	if readErr != nil {
		return readErr
	}
	return waitErr
}

// report builds the test run from p, then saves and publishes it as
// configured. A payload that could not be published is saved so that
// the publish command can send it later.
func (a *App) report(ctx context.Context, cfg *config.Configuration, p *probe.Probe, runContext model.Context) error {
	projectID, err := cfg.ProjectAPIID()
	if err != nil {
		return err
	}
	version, err := cfg.ProjectVersion()
	if err != nil {
		return err
	}

	info := scm.NewCollector(a.logger, a.scmOpts...).Collect(ctx, ".")

	run, err := p.Run(projectID, version,
		model.WithPipeline(cfg.Pipeline()),
		model.WithStage(cfg.Stage()),
		model.WithContext(runContext),
		model.WithReportUID(cfg.CurrentUID()),
		model.WithData(info.Data()),
	)
	if err != nil {
		return err
	}

	a.logger.Info().
		Int("results", len(run.Results)).
		Int("passed", run.Passed()).
		Int64("duration_ms", run.Duration).
		Msg("Test run completed")

	saved := false
	if cfg.PayloadSave() {
		if err := a.save(cfg, run); err != nil {
			return err
		}
		saved = true
	}

	if !cfg.Publish() {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		a.logger.Warn().Err(err).Msg("Publishing is disabled")
		return nil
	}

	conn, err := a.newConnector(cfg)
	if err != nil {
		return err
	}
	ok, err := conn.Send(ctx, run)
	if err != nil {
		return err
	}
	if !ok && !saved {
		a.logger.Warn().Msg("The payload could not be published, saving it for a later publish")
		return a.save(cfg, run)
	}
	return nil
}

func (a *App) save(cfg *config.Configuration, run *model.TestRun) error {
	store := a.payloadStore(cfg)
	name, err := store.Save(run)
	if err != nil {
		return err
	}
	a.logger.Info().Str("name", name).Str("dir", store.Dir()).Msg("Payload saved")
	return nil
}
