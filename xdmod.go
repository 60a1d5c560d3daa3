package xdmod

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jpwhite4/xdmod-go/dataframe"
	"github.com/jpwhite4/xdmod-go/internal/cache"
	"github.com/jpwhite4/xdmod-go/internal/telemetry"
)

const (
	instrumentationName = "github.com/jpwhite4/xdmod-go"

	// rawDataPageSize is how many rows each page of the raw-data
	// endpoint requests. The server may return fewer on the last page.
	rawDataPageSize = 10000
)

// ProgressFunc receives periodic progress while raw data is retrieved:
// the number of rows fetched so far and the total matching rows.
type ProgressFunc func(fetched, total int)

// Config holds the settings needed to open a Session.
type Config struct {
	// BaseURL is the root URL of the warehouse (e.g.
	// "https://xdmod.access-ci.org").
	BaseURL string

	// APIToken is the user's long-lived API token, normally read from
	// the credential file (see internal/config).
	APIToken string

	// HTTPClient is an optional custom HTTP client. If nil, a default
	// client with Timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30
	// seconds.
	Timeout time.Duration

	// UserAgent overrides the User-Agent header.
	UserAgent string

	// Progress replaces the default progress reporter (a slog line per
	// page). Only consulted when a QuerySpec enables ShowProgress.
	Progress ProgressFunc

	// CachePath and CacheTTL enable the local result cache when TTL is
	// positive. Identical queries within the TTL are served from disk.
	CachePath string
	CacheTTL  time.Duration
}

// Session is a scoped, authenticated connection to the warehouse. All
// methods are safe for concurrent use. Close releases the network and
// cache resources the session owns; run long local computation (model
// fitting, plotting) after Close, not inside the session's scope.
type Session struct {
	baseURL   string
	userAgent string
	client    *http.Client
	tokenMgr  *tokenManager
	progress  ProgressFunc
	store     *cache.Store

	tracer      oteltrace.Tracer
	rowsFetched metric.Int64Counter
}

// Connect opens a Session against the warehouse. The API token is not
// verified here; the first operation exchanges it for a session token
// and surfaces an auth error if it is missing or rejected.
func Connect(cfg Config) (*Session, error) {
	if cfg.BaseURL == "" {
		return nil, invalidArgument("BaseURL is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if _, err := url.Parse(baseURL); err != nil {
		return nil, invalidArgument("BaseURL %q is not a valid URL", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "xdmod-go/" + Version
	}

	var store *cache.Store
	if cfg.CacheTTL > 0 {
		if cfg.CachePath == "" {
			return nil, invalidArgument("CachePath is required when CacheTTL is set")
		}
		var err error
		store, err = cache.Open(cfg.CachePath, cfg.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("xdmod: open result cache: %w", err)
		}
	}

	rowsFetched, err := telemetry.Meter(instrumentationName).Int64Counter(
		"xdmod.client.rows_fetched",
		metric.WithDescription("Raw data rows retrieved from the warehouse."),
	)
	if err != nil {
		return nil, fmt.Errorf("xdmod: create counter: %w", err)
	}

	return &Session{
		baseURL:     baseURL,
		userAgent:   userAgent,
		client:      httpClient,
		tokenMgr:    newTokenManager(baseURL, cfg.APIToken, userAgent, httpClient),
		progress:    cfg.Progress,
		store:       store,
		tracer:      telemetry.Tracer(instrumentationName),
		rowsFetched: rowsFetched,
	}, nil
}

// Close releases the session's resources: idle network connections and
// the cache handle. It is safe to call once regardless of whether any
// query succeeded.
func (s *Session) Close() error {
	s.client.CloseIdleConnections()
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Raw data
// ---------------------------------------------------------------------------

// storedTable is the cache serialization of a completed result.
type storedTable struct {
	Fields []string    `json:"fields"`
	Rows   [][]*string `json:"rows"`
}

// GetRawData fetches every record matching spec and materializes the
// result as a table. The column set equals the resolved field list and
// the row count equals the number of matching records server-side;
// cells may legitimately be missing. A query either resolves to a
// complete table or fails as a whole.
func (s *Session) GetRawData(ctx context.Context, spec QuerySpec) (*dataframe.Table, error) {
	// Local validation runs before any network traffic.
	if err := spec.validate(); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "xdmod.get_raw_data")
	defer span.End()
	span.SetAttributes(attribute.String("xdmod.realm", spec.Realm))

	key := spec.cacheKey()
	if s.store != nil {
		if table, ok := s.cachedResult(ctx, key); ok {
			span.SetAttributes(attribute.Bool("xdmod.cache_hit", true), attribute.Int("xdmod.rows", table.NumRows()))
			return table, nil
		}
	}

	fields, rows, err := s.fetchAllPages(ctx, spec)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("xdmod.rows", len(rows)))
	s.rowsFetched.Add(ctx, int64(len(rows)), metric.WithAttributes(attribute.String("realm", spec.Realm)))

	if s.store != nil {
		payload, err := json.Marshal(storedTable{Fields: fields, Rows: rows})
		if err == nil {
			if err := s.store.Put(ctx, key, payload); err != nil {
				slog.Warn("result cache write failed", "error", err)
			}
		}
	}

	return buildTable(fields, rows)
}

func (s *Session) cachedResult(ctx context.Context, key string) (*dataframe.Table, bool) {
	payload, ok, err := s.store.Get(ctx, key)
	if err != nil {
		slog.Warn("result cache read failed", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var stored storedTable
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, false
	}
	table, err := buildTable(stored.Fields, stored.Rows)
	if err != nil {
		return nil, false
	}
	return table, true
}

func (s *Session) fetchAllPages(ctx context.Context, spec QuerySpec) ([]string, [][]*string, error) {
	report := func(int, int) {}
	if spec.ShowProgress {
		report = s.progress
		if report == nil {
			report = func(fetched, total int) {
				slog.Info("fetching raw data", "rows", fetched, "total", total)
			}
		}
	}

	var fields []string
	var rows [][]*string
	for {
		body := buildRawDataRequest(spec, len(rows), rawDataPageSize)
		var page rawDataPage
		if err := s.post(ctx, "/warehouse/export/raw-data", body, &page); err != nil {
			return nil, nil, err
		}
		if fields == nil {
			fields = page.Fields
		}
		rows = append(rows, page.Rows...)
		report(len(rows), page.TotalRows)

		if len(rows) >= page.TotalRows || len(page.Rows) == 0 {
			return fields, rows, nil
		}
	}
}

func buildTable(fields []string, rows [][]*string) (*dataframe.Table, error) {
	cells := make([][]dataframe.Cell, len(rows))
	for i, row := range rows {
		out := make([]dataframe.Cell, len(row))
		for j, v := range row {
			if v != nil {
				out[j] = dataframe.NewCell(*v)
			}
		}
		cells[i] = out
	}
	table, err := dataframe.NewTable(fields, cells)
	if err != nil {
		return nil, fmt.Errorf("xdmod: malformed raw data response: %w", err)
	}
	return table, nil
}

// ---------------------------------------------------------------------------
// Metadata lookups
// ---------------------------------------------------------------------------

// DescribeDurations enumerates the valid duration aliases together with
// the dates each currently resolves to.
func (s *Session) DescribeDurations(ctx context.Context) ([]DurationRange, error) {
	var out []DurationRange
	if err := s.get(ctx, "/warehouse/export/durations", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DescribeRawRealms enumerates the realms that support raw-record
// export.
func (s *Session) DescribeRawRealms(ctx context.Context) ([]Realm, error) {
	var out []Realm
	if err := s.get(ctx, "/warehouse/export/realms", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DescribeRawFields enumerates the fields available in a realm.
func (s *Session) DescribeRawFields(ctx context.Context, realm string) ([]Field, error) {
	if realm == "" {
		return nil, invalidArgument("realm is required")
	}
	var out []Field
	if err := s.get(ctx, "/warehouse/export/realms/"+url.PathEscape(realm)+"/fields", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DescribeDimensions enumerates the filterable dimensions of a realm.
func (s *Session) DescribeDimensions(ctx context.Context, realm string) ([]Dimension, error) {
	if realm == "" {
		return nil, invalidArgument("realm is required")
	}
	var out []Dimension
	if err := s.get(ctx, "/warehouse/export/realms/"+url.PathEscape(realm)+"/dimensions", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DescribeFilterValues enumerates the admissible values of a filter
// dimension.
func (s *Session) DescribeFilterValues(ctx context.Context, realm, dimension string) ([]FilterValue, error) {
	if realm == "" {
		return nil, invalidArgument("realm is required")
	}
	if dimension == "" {
		return nil, invalidArgument("dimension is required")
	}
	path := "/warehouse/export/realms/" + url.PathEscape(realm) + "/dimensions/" + url.PathEscape(dimension) + "/values"
	var out []FilterValue
	if err := s.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidateQuery resolves the spec's field and filter identifiers
// against server metadata without running the fetch. Identifiers match
// on either ID or label. Returns nil when the spec would be accepted.
func (s *Session) ValidateQuery(ctx context.Context, spec QuerySpec) error {
	if err := spec.validate(); err != nil {
		return err
	}

	var fields []Field
	var dimensions []Dimension
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		fields, err = s.DescribeRawFields(gctx, spec.Realm)
		return err
	})
	if len(spec.Filters) > 0 {
		g.Go(func() error {
			var err error
			dimensions, err = s.DescribeDimensions(gctx, spec.Realm)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	known := make(map[string]struct{}, 2*len(fields))
	for _, f := range fields {
		known[f.ID] = struct{}{}
		known[f.Label] = struct{}{}
	}
	for _, name := range spec.Fields {
		if _, ok := known[name]; !ok {
			return invalidArgument("field %q is not defined in realm %q", name, spec.Realm)
		}
	}

	if len(spec.Filters) == 0 {
		return nil
	}

	dimIDs := make(map[string]string, len(dimensions))
	for _, d := range dimensions {
		dimIDs[d.ID] = d.ID
		dimIDs[d.Label] = d.ID
	}

	resolved := make(map[string]string, len(spec.Filters))
	for dim := range spec.Filters {
		id, ok := dimIDs[dim]
		if !ok {
			return invalidArgument("dimension %q is not filterable in realm %q", dim, spec.Realm)
		}
		resolved[dim] = id
	}

	vg, vctx := errgroup.WithContext(ctx)
	for dim, values := range spec.Filters {
		id := resolved[dim]
		vg.Go(func() error {
			admissible, err := s.DescribeFilterValues(vctx, spec.Realm, id)
			if err != nil {
				return err
			}
			knownValues := make(map[string]struct{}, 2*len(admissible))
			for _, v := range admissible {
				knownValues[v.ID] = struct{}{}
				knownValues[v.Label] = struct{}{}
			}
			for _, v := range values {
				if _, ok := knownValues[v]; !ok {
					return invalidArgument("value %q is not valid for dimension %q", v, dim)
				}
			}
			return nil
		})
	}
	return vg.Wait()
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Session) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("xdmod: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("xdmod: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return s.doRequest(ctx, req, dest)
}

func (s *Session) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("xdmod: create request: %w", err)
	}

	return s.doRequest(ctx, req, dest)
}

func (s *Session) doRequest(ctx context.Context, req *http.Request, dest any) error {
	token, err := s.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := s.client.Do(req)
	if err != nil {
		return transient(err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return transient(err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("xdmod: decode response envelope: %w", err)
	}
	if envelope.Data == nil {
		return json.Unmarshal(bodyBytes, dest)
	}
	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}
	return apiErr
}
