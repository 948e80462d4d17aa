// Package connector transmits payloads to a Probe Dock server.
//
// A payload is first sent optimized, using the configured optimizer store.
// The footprints recorded during optimization are committed only when the
// server accepted the optimized payload. Otherwise they are discarded and
// the full payload is sent once more. There is no other retry.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/probedock/probedock-go/cache"
	"github.com/probedock/probedock-go/config"
	"github.com/probedock/probedock-go/model"
	"github.com/probedock/probedock-go/optimize"
	"github.com/probedock/probedock-go/serializer"
	"github.com/rs/zerolog"
)

const (
	APIRootMediaType = "application/hal+json; charset=UTF-8"
	PayloadsLink     = "v1:test-payloads"
	DefaultTimeout   = 10 * time.Second

	// maxErrorBody bounds how much of a failed response is logged
	maxErrorBody = 64 << 10
)

var (
	ErrInvalidURL    = errors.New("invalid URL")
	ErrUnauthorized  = errors.New("authentication failed")
	ErrNoPayloadLink = errors.New("the API root has no " + PayloadsLink + " link")
)

// Config is what a connector needs from the client configuration.
type Config struct {
	Server       config.Server
	PayloadCache bool
	PayloadPrint bool
	Store        string
	StoreConfig  optimize.StoreConfig
}

// ConfigFrom extracts the connector settings of the selected server.
func ConfigFrom(c *config.Configuration) (Config, error) {
	server, err := c.Server()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Server:       server,
		PayloadCache: c.PayloadCache(),
		PayloadPrint: c.PayloadPrint(),
		Store:        c.OptimizerStore(),
		StoreConfig:  c.StoreConfig(),
	}, nil
}

// DefaultRegistry knows the memory, file and sqlite stores.
func DefaultRegistry() *optimize.Registry {
	r := optimize.NewRegistry()
	cache.Register(r)
	cache.RegisterSQLite(r)
	return r
}

type Connector struct {
	logger     zerolog.Logger
	cfg        Config
	apiURL     *url.URL
	client     *http.Client
	registry   *optimize.Registry
	serializer serializer.Serializer
	output     io.Writer
}

// Option configures a Connector.
type Option func(*Connector)

// WithHTTPClient replaces the HTTP client. Proxy and timeout settings of
// the configuration are then ignored.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Connector) {
		c.client = client
	}
}

// WithRegistry replaces the optimizer store registry.
func WithRegistry(r *optimize.Registry) Option {
	return func(c *Connector) {
		c.registry = r
	}
}

// WithSerializer replaces the JSON serializer.
func WithSerializer(s serializer.Serializer) Option {
	return func(c *Connector) {
		c.serializer = s
	}
}

// WithOutput sets where payloads are printed, stdout by default.
func WithOutput(w io.Writer) Option {
	return func(c *Connector) {
		c.output = w
	}
}

// New validates the server URL and builds a connector.
func New(cfg Config, logger zerolog.Logger, opts ...Option) (*Connector, error) {
	apiURL, err := parseURL(cfg.Server.APIURL)
	if err != nil {
		return nil, fmt.Errorf("the API URL of server %q is not valid: %w", cfg.Server.Name, err)
	}

	c := &Connector{
		logger:     logger.With().Str("server", cfg.Server.Name).Logger(),
		cfg:        cfg,
		apiURL:     apiURL,
		serializer: serializer.JSON{},
		output:     os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.registry == nil {
		c.registry = DefaultRegistry()
	}
	if c.client == nil {
		c.client = c.newHTTPClient()
	}
	return c, nil
}

func parseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return u, nil
}

func (c *Connector) newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxy := c.cfg.Server.Proxy; proxy != nil {
		if proxy.Valid() {
			transport.Proxy = http.ProxyURL(&url.URL{
				Scheme: "http",
				Host:   net.JoinHostPort(proxy.Host, strconv.Itoa(proxy.Port)),
			})
		} else {
			c.logger.Warn().
				Str("host", proxy.Host).
				Int("port", proxy.Port).
				Msg("Ignoring invalid proxy configuration")
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   DefaultTimeout,
	}
}

// Send transmits payload and reports whether the server accepted it.
// Transport failures are logged and reported as false. An error is
// returned only for problems retrying cannot fix.
func (c *Connector) Send(ctx context.Context, payload model.Payload) (bool, error) {
	if payload == nil {
		return false, fmt.Errorf("%w: nil payload", optimize.ErrUnexpectedPayload)
	}

	payloadURL, err := c.PayloadResourceURL(ctx)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			c.logger.Error().
				Str("token", maskToken(c.cfg.Server.APIToken)).
				Msg("Authentication to Probe Dock failed, make sure the API token in your configuration is correct")
		} else {
			c.logger.Error().Err(err).Msg("Unable to discover the payload resource")
		}
		return false, nil
	}

	c.logger.Info().Str("url", c.apiURL.String()).Msg("Connected to Probe Dock API")

	if c.cfg.PayloadPrint {
		if err := c.serializer.Serialize(c.output, payload, true); err != nil {
			c.logger.Warn().Err(err).Msg("Unable to print the payload")
		}
	}

	store := c.startStore()

	optimized := payload
	if store != nil {
		optimized, err = c.optimize(store, payload)
		if err != nil {
			store.Stop(false)
			return false, err
		}
	}

	result := c.sendPayload(ctx, payloadURL, optimized, store != nil)
	if store != nil {
		store.Stop(result)
	}

	if !result {
		c.logger.Warn().Msg("Sending the full payload")
		result = c.sendPayload(ctx, payloadURL, payload, false)
	}
	return result, nil
}

// startStore returns nil when optimization is disabled or unavailable.
func (c *Connector) startStore() optimize.Store {
	if !c.cfg.PayloadCache {
		return nil
	}

	name := c.cfg.Store
	if name == "" {
		name = cache.StoreName
	}

	store, err := c.registry.New(name, c.logger)
	if err != nil {
		c.logger.Warn().Err(err).Str("store", name).Msg("The payload will be sent without optimizations")
		return nil
	}
	if err := store.Start(c.cfg.StoreConfig); err != nil {
		c.logger.Warn().Err(err).Str("store", name).Msg("The payload will be sent without optimizations")
		return nil
	}
	return store
}

func (c *Connector) optimize(store optimize.Store, payload model.Payload) (model.Payload, error) {
	o, err := optimize.For(c.logger, payload)
	if err != nil {
		return nil, err
	}
	return o.Optimize(store, payload)
}

type apiRoot struct {
	Links map[string]struct {
		Href string `json:"href"`
	} `json:"_links"`
}

// PayloadResourceURL reads the payload resource link from the API root.
func (c *Connector) PayloadResourceURL(ctx context.Context) (*url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", APIRootMediaType)
	c.authenticate(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not reach the Probe Dock API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d from the API root: %s", resp.StatusCode, readBody(resp.Body))
	}

	var root apiRoot
	if err := json.NewDecoder(resp.Body).Decode(&root); err != nil {
		return nil, fmt.Errorf("could not read the Probe Dock API response: %w", err)
	}

	link, ok := root.Links[PayloadsLink]
	if !ok || link.Href == "" {
		return nil, ErrNoPayloadLink
	}

	href, err := url.Parse(link.Href)
	if err != nil {
		return nil, fmt.Errorf("%w: %s link: %w", ErrInvalidURL, PayloadsLink, err)
	}
	return c.apiURL.ResolveReference(href), nil
}

func (c *Connector) sendPayload(ctx context.Context, payloadURL *url.URL, payload model.Payload, optimized bool) bool {
	kind := "payload"
	if optimized {
		kind = "optimized payload"
	}
	logger := c.logger.With().Str("payload", kind).Logger()

	body, err := serializer.Marshal(c.serializer, payload, false)
	if err != nil {
		logger.Error().Err(err).Msg("Unable to serialize the payload")
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, payloadURL.String(), bytes.NewReader(body))
	if err != nil {
		logger.Error().Err(err).Msg("Unable to create the request")
		return false
	}
	req.Header.Set("Content-Type", serializer.ContentType)
	c.authenticate(req)

	resp, err := c.client.Do(req)
	if err != nil {
		logger.Error().Err(err).Msg("Unable to send the payload, the server is probably unreachable")
		if !c.cfg.PayloadPrint {
			logger.Debug().RawJSON("content", body).Msg("Payload in error")
		}
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		logger.Error().
			Int("status", resp.StatusCode).
			Str("content", readBody(resp.Body)).
			Msg("Unable to send the payload to Probe Dock")
		return false
	}

	logger.Info().Msg("The payload was successfully sent to Probe Dock")
	return true
}

func (c *Connector) authenticate(req *http.Request) {
	if c.cfg.Server.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Server.APIToken)
	}
}

func readBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return ""
	}
	return string(data)
}

// maskToken keeps the first characters of a token for diagnostics.
func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
