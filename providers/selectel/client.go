// Package selectel implements the zonesync provider interface for Selectel DNS (API v2).
package selectel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"gitlab.bluewillows.net/root/zonesync/internal/metrics"
	"gitlab.bluewillows.net/root/zonesync/pkg/httputil"
	"gitlab.bluewillows.net/root/zonesync/pkg/provider"
)

const (
	// DefaultAPIEndpoint is the base URL for the Selectel Domains API v2.
	DefaultAPIEndpoint = "https://api.selectel.ru/domains/v2"

	// PaginationLimit is the page size requested from list endpoints.
	PaginationLimit = 50
)

// ErrInvalidID is returned when a zone or rrset id is not a UUID.
var ErrInvalidID = errors.New("invalid id")

// APIError is a non-2xx response from the Selectel API.
// It unwraps to the matching provider sentinel (ErrBadRequest, ErrUnauthorized, ...).
type APIError struct {
	StatusCode  int
	Code        string
	Description string
	sentinel    error
}

func (e *APIError) Error() string {
	switch {
	case e.StatusCode == http.StatusBadRequest:
		return "Bad request. Description: " + e.Description
	case e.StatusCode == http.StatusUnauthorized:
		return "Authorization failed. Invalid or empty token."
	case e.StatusCode == http.StatusNotFound:
		return "Resource not found."
	case e.StatusCode == http.StatusConflict:
		return "Resource already created."
	case e.StatusCode >= 500:
		return "Internal server error."
	case e.Description != "":
		return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Description)
	default:
		return fmt.Sprintf("unexpected status code %d", e.StatusCode)
	}
}

func (e *APIError) Unwrap() error {
	return e.sentinel
}

// errorBody is the JSON body Selectel returns with 4xx responses.
type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"description"`
}

func newAPIError(statusCode int, body []byte) *APIError {
	e := &APIError{StatusCode: statusCode}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		e.Code = eb.Error
		e.Description = eb.Description
	}

	switch {
	case statusCode == http.StatusUnauthorized:
		e.sentinel = provider.ErrUnauthorized
	case statusCode == http.StatusNotFound:
		e.sentinel = provider.ErrNotFound
	case statusCode == http.StatusConflict:
		e.sentinel = provider.ErrConflict
	case statusCode >= 500:
		e.sentinel = provider.ErrServer
	default:
		e.sentinel = provider.ErrBadRequest
	}
	return e
}

// Zone is a zone as returned by the API.
type Zone struct {
	UUID     string `json:"uuid"`
	Name     string `json:"name"`
	Disabled bool   `json:"disabled,omitempty"`
}

// RRSetRecord is one value of an rrset.
type RRSetRecord struct {
	Content  string `json:"content"`
	Disabled bool   `json:"disabled"`
}

// RRSet is the Selectel wire form of a record set.
type RRSet struct {
	UUID    string        `json:"uuid,omitempty"`
	Name    string        `json:"name"`
	Type    string        `json:"type"`
	TTL     int           `json:"ttl"`
	Records []RRSetRecord `json:"records"`
}

// page is one page of a paginated listing.
type page[T any] struct {
	Count      int `json:"count"`
	NextOffset int `json:"next_offset"`
	Result     []T `json:"result"`
}

// updateRRSetRequest is the PATCH body for an rrset.
type updateRRSetRequest struct {
	TTL     int           `json:"ttl"`
	Records []RRSetRecord `json:"records"`
}

// Client is a Selectel Domains API v2 client.
type Client struct {
	apiEndpoint   string
	token         string
	userAgent     string
	timeout       time.Duration
	tlsSkipVerify bool
	httpClient    *http.Client
	logger        *slog.Logger
}

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAPIEndpoint sets a custom API endpoint (useful for testing).
func WithAPIEndpoint(endpoint string) ClientOption {
	return func(c *Client) {
		if endpoint != "" {
			c.apiEndpoint = endpoint
		}
	}
}

// WithUserAgent sets the User-Agent sent with every request.
func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		if userAgent != "" {
			c.userAgent = userAgent
		}
	}
}

// WithTimeout sets the HTTP timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithTLSSkipVerify disables certificate verification in the default HTTP client.
func WithTLSSkipVerify(skip bool) ClientOption {
	return func(c *Client) {
		c.tlsSkipVerify = skip
	}
}

// NewClient creates a new Selectel API client.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		apiEndpoint: DefaultAPIEndpoint,
		token:       token,
		userAgent:   httputil.DefaultUserAgent,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = httputil.NewClient(&httputil.ClientConfig{
			Timeout:       c.timeout,
			TLSSkipVerify: c.tlsSkipVerify,
			UserAgent:     c.userAgent,
			Headers:       map[string]string{"Accept": "application/json"},
			Logger:        c.logger,
		})
	}

	return c
}

// doRequest performs an HTTP request and decodes a JSON response into out.
// out may be nil; empty bodies are accepted.
func (c *Client) doRequest(ctx context.Context, operation, method, path string, query url.Values, body, out any) error {
	start := time.Now()
	err := c.do(ctx, method, path, query, body, out)

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ProviderAPIRequestsTotal.WithLabelValues("selectel", operation, status).Inc()
	metrics.ProviderAPIDuration.WithLabelValues("selectel", operation).Observe(time.Since(start).Seconds())

	return err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	reqURL := c.apiEndpoint + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	c.logger.Debug("making API request",
		slog.String("method", method),
		slog.String("path", path),
	)

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("X-Auth-Token", c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: executing request: %v", provider.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	c.logger.Debug("API response",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp.StatusCode, respBody)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response JSON: %w", err)
	}
	return nil
}

// listAll follows limit/offset pagination until the server reports next_offset 0.
func listAll[T any](ctx context.Context, c *Client, operation, path string) ([]T, error) {
	var all []T
	offset := 0
	for {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(PaginationLimit))
		query.Set("offset", strconv.Itoa(offset))

		var p page[T]
		if err := c.doRequest(ctx, operation, http.MethodGet, path, query, nil, &p); err != nil {
			return nil, err
		}
		all = append(all, p.Result...)

		if p.NextOffset == 0 {
			return all, nil
		}
		if p.NextOffset <= offset {
			return nil, fmt.Errorf("pagination did not advance: offset %d, next_offset %d", offset, p.NextOffset)
		}
		offset = p.NextOffset
	}
}

// Ping checks connectivity and the token by fetching a single page of zones.
func (c *Client) Ping(ctx context.Context) error {
	query := url.Values{}
	query.Set("limit", "1")
	query.Set("offset", "0")

	var p page[Zone]
	if err := c.doRequest(ctx, "ping", http.MethodGet, zonesPath(), query, nil, &p); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// ListZones returns every zone visible to the token.
func (c *Client) ListZones(ctx context.Context) ([]Zone, error) {
	zones, err := listAll[Zone](ctx, c, "list_zones", zonesPath())
	if err != nil {
		return nil, fmt.Errorf("listing zones: %w", err)
	}

	c.logger.Debug("listed zones", slog.Int("count", len(zones)))
	return zones, nil
}

// CreateZone creates a zone and returns it as stored by the API.
func (c *Client) CreateZone(ctx context.Context, name string) (*Zone, error) {
	var zone Zone
	body := map[string]string{"name": name}
	if err := c.doRequest(ctx, "create_zone", http.MethodPost, zonesPath(), nil, body, &zone); err != nil {
		return nil, fmt.Errorf("creating zone %s: %w", name, err)
	}

	c.logger.Info("created zone",
		slog.String("zone", name),
		slog.String("zone_id", zone.UUID),
	)
	return &zone, nil
}

// ListRRSets returns every rrset of a zone.
func (c *Client) ListRRSets(ctx context.Context, zoneID string) ([]RRSet, error) {
	path, err := rrsetsPath(zoneID)
	if err != nil {
		return nil, err
	}

	rrsets, err := listAll[RRSet](ctx, c, "list_rrsets", path)
	if err != nil {
		return nil, fmt.Errorf("listing rrsets: %w", err)
	}

	c.logger.Debug("listed rrsets",
		slog.String("zone_id", zoneID),
		slog.Int("count", len(rrsets)),
	)
	return rrsets, nil
}

// CreateRRSet creates an rrset in a zone and returns it as stored by the API.
func (c *Client) CreateRRSet(ctx context.Context, zoneID string, rrset RRSet) (*RRSet, error) {
	path, err := rrsetsPath(zoneID)
	if err != nil {
		return nil, err
	}

	rrset.UUID = ""
	var created RRSet
	if err := c.doRequest(ctx, "create_rrset", http.MethodPost, path, nil, rrset, &created); err != nil {
		return nil, fmt.Errorf("creating %s rrset %s: %w", rrset.Type, rrset.Name, err)
	}

	c.logger.Info("created rrset",
		slog.String("zone_id", zoneID),
		slog.String("name", rrset.Name),
		slog.String("type", rrset.Type),
		slog.Int("ttl", rrset.TTL),
		slog.Int("records", len(rrset.Records)),
	)
	return &created, nil
}

// UpdateRRSet replaces the ttl and records of an existing rrset.
func (c *Client) UpdateRRSet(ctx context.Context, zoneID, rrsetID string, rrset RRSet) error {
	path, err := rrsetPath(zoneID, rrsetID)
	if err != nil {
		return err
	}

	body := updateRRSetRequest{TTL: rrset.TTL, Records: rrset.Records}
	if err := c.doRequest(ctx, "update_rrset", http.MethodPatch, path, nil, body, nil); err != nil {
		return fmt.Errorf("updating %s rrset %s: %w", rrset.Type, rrset.Name, err)
	}

	c.logger.Info("updated rrset",
		slog.String("zone_id", zoneID),
		slog.String("rrset_id", rrsetID),
		slog.String("name", rrset.Name),
		slog.String("type", rrset.Type),
	)
	return nil
}

// DeleteRRSet deletes an rrset by id.
func (c *Client) DeleteRRSet(ctx context.Context, zoneID, rrsetID string) error {
	path, err := rrsetPath(zoneID, rrsetID)
	if err != nil {
		return err
	}

	if err := c.doRequest(ctx, "delete_rrset", http.MethodDelete, path, nil, nil, nil); err != nil {
		return fmt.Errorf("deleting rrset %s: %w", rrsetID, err)
	}

	c.logger.Info("deleted rrset",
		slog.String("zone_id", zoneID),
		slog.String("rrset_id", rrsetID),
	)
	return nil
}

func zonesPath() string {
	return "/zones"
}

func rrsetsPath(zoneID string) (string, error) {
	if err := validateID("zone", zoneID); err != nil {
		return "", err
	}
	return "/zones/" + zoneID + "/rrset", nil
}

func rrsetPath(zoneID, rrsetID string) (string, error) {
	base, err := rrsetsPath(zoneID)
	if err != nil {
		return "", err
	}
	if err := validateID("rrset", rrsetID); err != nil {
		return "", err
	}
	return base + "/" + rrsetID, nil
}

func validateID(kind, id string) error {
	if err := uuid.Validate(id); err != nil {
		return fmt.Errorf("%w: %s id %q", ErrInvalidID, kind, id)
	}
	return nil
}
