// Package scm collects source control information attached to test runs.
package scm

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/probedock/probedock-go/config"
	"github.com/rs/zerolog"
)

// Environment variables, without config.EnvPrefix. They override what git
// reports, which is useful on CI systems checking out detached heads.
const (
	EnvName            = "SCM_NAME"
	EnvVersion         = "SCM_VERSION"
	EnvBranch          = "SCM_BRANCH"
	EnvCommit          = "SCM_COMMIT"
	EnvDirty           = "SCM_DIRTY"
	EnvRemoteName      = "SCM_REMOTE_NAME"
	EnvRemoteURLFetch  = "SCM_REMOTE_URL_FETCH"
	EnvRemoteURLPush   = "SCM_REMOTE_URL_PUSH"
	EnvRemoteAhead     = "SCM_REMOTE_AHEAD"
	EnvRemoteBehind    = "SCM_REMOTE_BEHIND"
	defaultRemoteName  = "origin"
	gitName            = "git"
	gitVersionPrefix   = "git version "
	upstreamDifference = "HEAD...@{u}"
)

type Remote struct {
	Name     string
	FetchURL string
	PushURL  string
	Ahead    *int
	Behind   *int
}

type Info struct {
	Name    string
	Version string
	Branch  string
	Commit  string
	Dirty   *bool
	Remote  Remote
}

// Runner executes git with args in dir and returns its trimmed output.
type Runner func(ctx context.Context, dir string, args ...string) (string, error)

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, gitName, args...)
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(output)), nil
}

type Collector struct {
	logger    zerolog.Logger
	run       Runner
	lookupEnv func(string) (string, bool)
}

// Option configures a Collector.
type Option func(*Collector)

// WithRunner replaces the git command runner.
func WithRunner(r Runner) Option {
	return func(c *Collector) {
		c.run = r
	}
}

// WithEnv replaces the process environment.
func WithEnv(env map[string]string) Option {
	return func(c *Collector) {
		c.lookupEnv = func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		}
	}
}

func NewCollector(logger zerolog.Logger, opts ...Option) *Collector {
	c := &Collector{
		logger:    logger,
		run:       runGit,
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect reads the repository containing dir. Outside of a repository
// only the environment overrides are returned.
func (c *Collector) Collect(ctx context.Context, dir string) Info {
	var info Info

	if commit, err := c.run(ctx, dir, "rev-parse", "HEAD"); err != nil {
		c.logger.Debug().Err(err).Str("dir", dir).Msg("No git repository found")
	} else {
		c.collectGit(ctx, dir, commit, &info)
	}

	c.override(&info)
	return info
}

func (c *Collector) collectGit(ctx context.Context, dir, commit string, info *Info) {
	info.Name = gitName
	info.Commit = commit

	if v, err := c.run(ctx, dir, "--version"); err == nil {
		info.Version = strings.TrimPrefix(v, gitVersionPrefix)
	}
	if branch, err := c.run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD"); err == nil && branch != "HEAD" {
		info.Branch = branch
	}
	if status, err := c.run(ctx, dir, "status", "--porcelain"); err == nil {
		dirty := status != ""
		info.Dirty = &dirty
	}

	remote := defaultRemoteName
	if info.Branch != "" {
		if r, err := c.run(ctx, dir, "config", "branch."+info.Branch+".remote"); err == nil && r != "" {
			remote = r
		}
	}
	fetch, err := c.run(ctx, dir, "remote", "get-url", remote)
	if err != nil {
		c.logger.Debug().Err(err).Str("remote", remote).Msg("No git remote found")
		return
	}
	info.Remote.Name = remote
	info.Remote.FetchURL = fetch
	if push, err := c.run(ctx, dir, "remote", "get-url", "--push", remote); err == nil {
		info.Remote.PushURL = push
	}

	counts, err := c.run(ctx, dir, "rev-list", "--left-right", "--count", upstreamDifference)
	if err != nil {
		return
	}
	fields := strings.Fields(counts)
	if len(fields) != 2 {
		return
	}
	if ahead, err := strconv.Atoi(fields[0]); err == nil {
		info.Remote.Ahead = &ahead
	}
	if behind, err := strconv.Atoi(fields[1]); err == nil {
		info.Remote.Behind = &behind
	}
}

func (c *Collector) env(name string) (string, bool) {
	return c.lookupEnv(config.EnvPrefix + name)
}

func (c *Collector) override(info *Info) {
	overrideString(c, EnvName, &info.Name)
	overrideString(c, EnvVersion, &info.Version)
	overrideString(c, EnvBranch, &info.Branch)
	overrideString(c, EnvCommit, &info.Commit)
	overrideString(c, EnvRemoteName, &info.Remote.Name)
	overrideString(c, EnvRemoteURLFetch, &info.Remote.FetchURL)
	overrideString(c, EnvRemoteURLPush, &info.Remote.PushURL)

	if v, ok := c.env(EnvDirty); ok {
		dirty := config.ParseBool(v)
		info.Dirty = &dirty
	}
	overrideInt(c, EnvRemoteAhead, &info.Remote.Ahead)
	overrideInt(c, EnvRemoteBehind, &info.Remote.Behind)
}

func overrideString(c *Collector, name string, dst *string) {
	if v, ok := c.env(name); ok {
		*dst = v
	}
}

func overrideInt(c *Collector, name string, dst **int) {
	v, ok := c.env(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.logger.Warn().Err(err).Str("variable", config.EnvPrefix+name).Msg("Ignoring non-integer value")
		return
	}
	*dst = &n
}

// Data flattens the information into run data entries.
func (i Info) Data() map[string]string {
	data := map[string]string{}
	put := func(key, value string) {
		if value != "" {
			data["scm."+key] = value
		}
	}

	put("name", i.Name)
	put("version", i.Version)
	put("branch", i.Branch)
	put("commit", i.Commit)
	if i.Dirty != nil {
		put("dirty", strconv.FormatBool(*i.Dirty))
	}
	put("remote.name", i.Remote.Name)
	put("remote.url.fetch", i.Remote.FetchURL)
	put("remote.url.push", i.Remote.PushURL)
	if i.Remote.Ahead != nil {
		put("remote.ahead", strconv.Itoa(*i.Remote.Ahead))
	}
	if i.Remote.Behind != nil {
		put("remote.behind", strconv.Itoa(*i.Remote.Behind))
	}
	return data
}
