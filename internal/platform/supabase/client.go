package supabase

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lib/pq"
)

// ErrNoDatabase indicates a SQL capability was requested on a client with
// no database connection configured.
var ErrNoDatabase = errors.New("no database connection configured")

// Client talks to a Supabase project: configuration goes through the
// management API, row-level security statements go through a direct
// Postgres connection when one is configured.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	db      *sql.DB
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpc = h }
}

// WithDB attaches a Postgres connection for RLS statements and table
// discovery.
func WithDB(db *sql.DB) ClientOption {
	return func(c *Client) { c.db = db }
}

// NewClient creates a client for the project at baseURL, authenticating
// with the service-role key.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OpenDatabase opens a Postgres connection for use with WithDB.
func OpenDatabase(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return db, nil
}

func (c *Client) request(ctx context.Context, method, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(msg))
	}
	return nil
}

// ConfigureAuthProvider enables one auth provider via the management API.
func (c *Client) ConfigureAuthProvider(ctx context.Context, provider string) error {
	return c.request(ctx, http.MethodPatch, "/v1/config/auth", map[string]any{
		"provider": provider,
		"enabled":  true,
	})
}

// SetPublicEnvVar sets one public project setting via the management API.
func (c *Client) SetPublicEnvVar(ctx context.Context, key, value string) error {
	return c.request(ctx, http.MethodPatch, "/v1/config/env", map[string]any{
		"key":   key,
		"value": value,
	})
}

// DeployFunction deploys one edge function via the management API.
func (c *Client) DeployFunction(ctx context.Context, name string) error {
	return c.request(ctx, http.MethodPost, "/v1/functions/"+name+"/deploy", nil)
}

// EnableRLS enables row-level security on one table over the direct
// database connection.
func (c *Client) EnableRLS(ctx context.Context, schema, table string) error {
	if c.db == nil {
		return ErrNoDatabase
	}
	stmt := fmt.Sprintf("ALTER TABLE %s.%s ENABLE ROW LEVEL SECURITY",
		pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table))
	if _, err := c.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("enabling RLS on %s.%s: %w", schema, table, err)
	}
	return nil
}

// ListTables discovers the tables of a schema from pg_tables.
func (c *Client) ListTables(ctx context.Context, schema string) ([]string, error) {
	if c.db == nil {
		return nil, ErrNoDatabase
	}
	rows, err := c.db.QueryContext(ctx,
		"SELECT tablename FROM pg_tables WHERE schemaname = $1 ORDER BY tablename", schema)
	if err != nil {
		return nil, fmt.Errorf("listing tables in %s: %w", schema, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}
