// Package config loads the client configuration from YAML files and
// PROBEDOCK_* environment variables.
//
// Files are read in order, later files override earlier ones:
//
//	<working dir>/probedock.yml
//	<home>/.probedock/config.yml
//
// List values (tags, tickets, contributors) are merged instead of replaced.
// Environment variables override both files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/probedock/probedock-go/optimize"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix = "PROBEDOCK_"

	ProjectFile = "probedock.yml"
	HomeDir     = ".probedock"
	HomeFile    = "config.yml"

	DefaultStore = "file"
)

// Environment variables, without EnvPrefix.
const (
	EnvServer            = "SERVER"
	EnvWorkspace         = "WORKSPACE"
	EnvPrintPayload      = "PRINT_PAYLOAD"
	EnvSavePayload       = "SAVE_PAYLOAD"
	EnvPublish           = "PUBLISH"
	EnvPayloadCache      = "PAYLOAD_CACHE"
	EnvOptimizerStore    = "OPTIMIZER_STORE"
	EnvOptimizerCacheDir = "OPTIMIZER_CACHE_DIR"
	EnvTestReportUID     = "TEST_REPORT_UID"
)

var (
	ErrNoServer         = errors.New("no server is defined in the configuration files, define servers under the \"servers\" property")
	ErrUnknownServer    = errors.New("no known server is selected, set the \"server\" property to the name of one of the configured servers")
	ErrInvalidServer    = errors.New("the selected server is invalid, apiUrl and apiToken are required")
	ErrMissingProjectID = errors.New("project API identifier is missing, set the project.apiId property or the projectApiId property of the selected server")
	ErrMissingVersion   = errors.New("project version is missing, set the project.version property")
)

var booleanPattern = regexp.MustCompile(`(?i)^(1|y|yes|t|true)$`)

// Proxy is an HTTP proxy used to reach a server.
type Proxy struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Valid reports whether the proxy can be used.
func (p *Proxy) Valid() bool {
	return p != nil && p.Host != "" && p.Port > 0 && p.Port < 65536
}

// Server is one configured Probe Dock server.
type Server struct {
	Name         string `yaml:"-"`
	APIURL       string `yaml:"apiUrl"`
	APIToken     string `yaml:"apiToken"`
	ProjectAPIID string `yaml:"projectApiId"`
	Proxy        *Proxy `yaml:"proxy"`
}

// Valid reports whether the server has an API URL and a token.
func (s *Server) Valid() bool {
	return s.APIURL != "" && s.APIToken != ""
}

func (s *Server) merge(o *Server) {
	if o.APIURL != "" {
		s.APIURL = o.APIURL
	}
	if o.APIToken != "" {
		s.APIToken = o.APIToken
	}
	if o.ProjectAPIID != "" {
		s.ProjectAPIID = o.ProjectAPIID
	}
	if o.Proxy != nil {
		proxy := *o.Proxy
		s.Proxy = &proxy
	}
}

type project struct {
	APIID        string   `yaml:"apiId"`
	Version      string   `yaml:"version"`
	Category     string   `yaml:"category"`
	Tags         []string `yaml:"tags"`
	Tickets      []string `yaml:"tickets"`
	Contributors []string `yaml:"contributors"`
}

type payload struct {
	Print *bool `yaml:"print"`
	Save  *bool `yaml:"save"`
	Cache *bool `yaml:"cache"`
}

type optimizer struct {
	Store    string `yaml:"store"`
	CacheDir string `yaml:"cacheDir"`
}

// file mirrors one YAML configuration file.
type file struct {
	Server       string             `yaml:"server"`
	Servers      map[string]*Server `yaml:"servers"`
	Workspace    string             `yaml:"workspace"`
	Project      project            `yaml:"project"`
	Tags         []string           `yaml:"tags"`
	Tickets      []string           `yaml:"tickets"`
	Contributors []string           `yaml:"contributors"`
	Category     string             `yaml:"category"`
	Pipeline     string             `yaml:"pipeline"`
	Stage        string             `yaml:"stage"`
	Publish      *bool              `yaml:"publish"`
	Payload      payload            `yaml:"payload"`
	Optimizer    optimizer          `yaml:"optimizer"`
}

// Configuration is the merged client configuration. It is built once with
// Load and passed explicitly to the components that need it.
type Configuration struct {
	logger    zerolog.Logger
	lookupEnv func(string) (string, bool)
	homeDir   string

	files   []string
	values  file
	servers map[string]*Server

	// Category and list values from the project section
	projectCategory string
	projectTags     []string
	projectTickets  []string
	projectContribs []string
}

// Option configures Load.
type Option func(*loader)

type loader struct {
	logger     zerolog.Logger
	workingDir string
	homeDir    string
	lookupEnv  func(string) (string, bool)
	files      []string
}

// WithLogger sets the logger used while loading and by the configuration.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *loader) {
		l.logger = logger
	}
}

// WithWorkingDir sets the directory searched for probedock.yml.
func WithWorkingDir(dir string) Option {
	return func(l *loader) {
		l.workingDir = dir
	}
}

// WithHomeDir sets the directory containing .probedock/config.yml.
func WithHomeDir(dir string) Option {
	return func(l *loader) {
		l.homeDir = dir
	}
}

// WithEnv replaces the process environment.
func WithEnv(env map[string]string) Option {
	return func(l *loader) {
		l.lookupEnv = func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		}
	}
}

// WithFiles adds configuration files read after the default ones.
func WithFiles(paths ...string) Option {
	return func(l *loader) {
		l.files = append(l.files, paths...)
	}
}

// Load reads the configuration files and the environment. Missing files are
// skipped; files that cannot be parsed are logged and skipped.
func Load(opts ...Option) (*Configuration, error) {
	l := &loader{
		logger:    zerolog.Nop(),
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.workingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		l.workingDir = wd
	}
	if l.homeDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		l.homeDir = home
	}

	c := &Configuration{
		logger:    l.logger,
		lookupEnv: l.lookupEnv,
		homeDir:   l.homeDir,
		servers:   map[string]*Server{},
	}

	paths := append([]string{
		filepath.Join(l.workingDir, ProjectFile),
		filepath.Join(l.homeDir, HomeDir, HomeFile),
	}, l.files...)

	for _, path := range paths {
		f, err := readFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			l.logger.Debug().Str("path", path).Msg("Configuration file not found")
			continue
		}
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Unable to load the configuration file")
			continue
		}

		c.merge(f)
		c.files = append(c.files, path)
		l.logger.Debug().Str("path", path).Msg("Configuration file loaded")
	}

	return c, nil
}

func readFile(path string) (*file, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(doc.Content) == 0 {
		return &file{}, nil
	}
	if doc.Content[0].Kind != yaml.MappingNode {
		return nil, errors.New("the configuration must be a map")
	}

	var f file
	if err := doc.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return &f, nil
}

func (c *Configuration) merge(f *file) {
	v := &c.values

	setString(&v.Server, f.Server)
	setString(&v.Workspace, f.Workspace)
	setString(&v.Category, f.Category)
	setString(&v.Pipeline, f.Pipeline)
	setString(&v.Stage, f.Stage)
	setString(&v.Project.APIID, f.Project.APIID)
	setString(&v.Project.Version, f.Project.Version)
	setString(&c.projectCategory, f.Project.Category)
	setString(&v.Optimizer.Store, f.Optimizer.Store)
	setString(&v.Optimizer.CacheDir, f.Optimizer.CacheDir)

	setBool(&v.Publish, f.Publish)
	setBool(&v.Payload.Print, f.Payload.Print)
	setBool(&v.Payload.Save, f.Payload.Save)
	setBool(&v.Payload.Cache, f.Payload.Cache)

	v.Tags = append(v.Tags, f.Tags...)
	v.Tickets = append(v.Tickets, f.Tickets...)
	v.Contributors = append(v.Contributors, f.Contributors...)
	c.projectTags = append(c.projectTags, f.Project.Tags...)
	c.projectTickets = append(c.projectTickets, f.Project.Tickets...)
	c.projectContribs = append(c.projectContribs, f.Project.Contributors...)

	for name, s := range f.Servers {
		if s == nil {
			continue
		}
		existing, ok := c.servers[name]
		if !ok {
			existing = &Server{Name: name}
			c.servers[name] = existing
		}
		existing.merge(s)
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setBool(dst **bool, v *bool) {
	if v != nil {
		b := *v
		*dst = &b
	}
}

// Files returns the configuration files that were loaded.
func (c *Configuration) Files() []string {
	return slices.Clone(c.files)
}

func (c *Configuration) env(name string) (string, bool) {
	return c.lookupEnv(EnvPrefix + name)
}

func (c *Configuration) envString(name, fallback string) string {
	if v, ok := c.env(name); ok {
		return v
	}
	return fallback
}

func (c *Configuration) envBool(name string, value *bool, fallback bool) bool {
	if v, ok := c.env(name); ok {
		return ParseBool(v)
	}
	if value != nil {
		return *value
	}
	return fallback
}

// ParseBool matches 1, y, yes, t and true, case-insensitively.
func ParseBool(s string) bool {
	return booleanPattern.MatchString(strings.TrimSpace(s))
}

// Workspace is the directory holding the uid file, the payload cache and
// saved payloads. A leading ~ is replaced by the home directory.
func (c *Configuration) Workspace() string {
	ws := c.envString(EnvWorkspace, c.values.Workspace)
	if ws == "" {
		return filepath.Join(c.homeDir, HomeDir)
	}
	if ws == "~" {
		return c.homeDir
	}
	if strings.HasPrefix(ws, "~/") {
		return filepath.Join(c.homeDir, ws[2:])
	}
	return ws
}

// ServerNames lists the configured servers in sorted order.
func (c *Configuration) ServerNames() []string {
	names := make([]string, 0, len(c.servers))
	for name := range c.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SelectedServer returns the name of the selected server.
func (c *Configuration) SelectedServer() string {
	return c.envString(EnvServer, c.values.Server)
}

// Server returns a copy of the selected server.
func (c *Configuration) Server() (Server, error) {
	if len(c.servers) == 0 {
		return Server{}, ErrNoServer
	}

	name := c.SelectedServer()
	s, ok := c.servers[name]
	if !ok {
		return Server{}, fmt.Errorf("%w: %q", ErrUnknownServer, name)
	}
	if !s.Valid() {
		return Server{}, fmt.Errorf("%w: %q", ErrInvalidServer, name)
	}

	server := *s
	if s.Proxy != nil {
		proxy := *s.Proxy
		server.Proxy = &proxy
	}
	return server, nil
}

// Validate reports why publishing is not possible, if it is not.
func (c *Configuration) Validate() error {
	_, err := c.Server()
	return err
}

// ProjectAPIID returns the project identifier of the selected server, or
// the global project.apiId.
func (c *Configuration) ProjectAPIID() (string, error) {
	if s, ok := c.servers[c.SelectedServer()]; ok && s.ProjectAPIID != "" {
		return s.ProjectAPIID, nil
	}
	if c.values.Project.APIID != "" {
		return c.values.Project.APIID, nil
	}
	return "", ErrMissingProjectID
}

func (c *Configuration) ProjectVersion() (string, error) {
	if c.values.Project.Version == "" {
		return "", ErrMissingVersion
	}
	return c.values.Project.Version, nil
}

// Category prefers project.category over the global category.
func (c *Configuration) Category() string {
	if c.projectCategory != "" {
		return c.projectCategory
	}
	return c.values.Category
}

func (c *Configuration) Tags() []string {
	return union(c.values.Tags, c.projectTags)
}

func (c *Configuration) Tickets() []string {
	return union(c.values.Tickets, c.projectTickets)
}

func (c *Configuration) Contributors() []string {
	return union(c.values.Contributors, c.projectContribs)
}

func (c *Configuration) Pipeline() string { return c.values.Pipeline }
func (c *Configuration) Stage() string    { return c.values.Stage }

// PayloadPrint reports whether payloads are also written to the output.
func (c *Configuration) PayloadPrint() bool {
	return c.envBool(EnvPrintPayload, c.values.Payload.Print, false)
}

// PayloadSave reports whether payloads are saved in the workspace.
func (c *Configuration) PayloadSave() bool {
	return c.envBool(EnvSavePayload, c.values.Payload.Save, false)
}

// PayloadCache reports whether payloads are optimized before sending.
func (c *Configuration) PayloadCache() bool {
	return c.envBool(EnvPayloadCache, c.values.Payload.Cache, true)
}

// Publish reports whether payloads are sent to the server.
func (c *Configuration) Publish() bool {
	return c.envBool(EnvPublish, c.values.Publish, true)
}

// OptimizerStore is the registry name of the optimizer store.
func (c *Configuration) OptimizerStore() string {
	store := c.envString(EnvOptimizerStore, c.values.Optimizer.Store)
	if store == "" {
		return DefaultStore
	}
	return store
}

// CacheDir is the optimizer cache root.
func (c *Configuration) CacheDir() string {
	if dir := c.envString(EnvOptimizerCacheDir, c.values.Optimizer.CacheDir); dir != "" {
		return dir
	}
	return filepath.Join(c.Workspace(), "cache")
}

// StoreConfig returns what optimizer stores are started with.
func (c *Configuration) StoreConfig() optimize.StoreConfig {
	cfg := optimize.StoreConfig{CacheDir: c.CacheDir()}
	if s, ok := c.servers[c.SelectedServer()]; ok {
		cfg.ServerURL = s.APIURL
	}
	return cfg
}

// union merges lists into a sorted set without empty values.
func union(lists ...[]string) []string {
	var out []string
	for _, list := range lists {
		for _, v := range list {
			if v == "" {
				continue
			}
			if i, found := slices.BinarySearch(out, v); !found {
				out = slices.Insert(out, i, v)
			}
		}
	}
	return out
}
