// Package latent is the HTTP client of the computation backend that owns
// dataset metadata and the embedding, map, cluster and scope artifacts.
package latent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"latentsetup/internal/setup/entity"
)

type Config struct {
	APIRoot string
	Timeout time.Duration
	Retries int

	// Backoff is the first retry delay. Zero uses one second.
	Backoff    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	root    string
	http    *http.Client
	retries uint64
	backoff time.Duration
}

func New(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.APIRoot)
	if raw == "" {
		return nil, fmt.Errorf("latent api root is required")
	}
	root, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid latent api root %q: %w", raw, err)
	}
	if root.Scheme == "" || root.Host == "" {
		return nil, fmt.Errorf("invalid latent api root %q: scheme and host required", raw)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &Client{root: root.String(), http: hc, retries: uint64(retries), backoff: backoff}, nil
}

// apipath joins escaped path segments under the api root.
func (c *Client) apipath(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.root + "/" + strings.Join(escaped, "/")
}

func (c *Client) ListDatasets(ctx context.Context) ([]entity.Dataset, error) {
	var out []entity.Dataset
	if err := c.getJSON(ctx, c.apipath("datasets"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetDataset(ctx context.Context, datasetID string) (entity.Dataset, error) {
	var out entity.Dataset
	if err := c.getJSON(ctx, c.apipath("datasets", datasetID, "meta"), &out); err != nil {
		return entity.Dataset{}, err
	}
	if out.ID == "" {
		out.ID = datasetID
	}
	return out, nil
}

// UpdateTextColumn is the only metadata mutation the backend accepts from a
// setup session.
func (c *Client) UpdateTextColumn(ctx context.Context, datasetID, column string) (entity.Dataset, error) {
	q := url.Values{}
	q.Set("key", "text_column")
	q.Set("value", column)
	var out entity.Dataset
	if err := c.getJSON(ctx, c.apipath("datasets", datasetID, "meta", "update")+"?"+q.Encode(), &out); err != nil {
		return entity.Dataset{}, err
	}
	if out.ID == "" {
		out.ID = datasetID
	}
	return out, nil
}

func (c *Client) ListEmbeddings(ctx context.Context, datasetID string) ([]entity.EmbeddingRef, error) {
	var out []entity.EmbeddingRef
	if err := c.getJSON(ctx, c.apipath("datasets", datasetID, "embeddings"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListMaps(ctx context.Context, datasetID string) ([]entity.MapArtifact, error) {
	var out []entity.MapArtifact
	if err := c.getJSON(ctx, c.apipath("datasets", datasetID, "umaps"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListClusters(ctx context.Context, datasetID string) ([]entity.ClusterArtifact, error) {
	var out []entity.ClusterArtifact
	if err := c.getJSON(ctx, c.apipath("datasets", datasetID, "clusters"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListLabelModels(ctx context.Context, datasetID, cluster string) ([]entity.LabelModelRef, error) {
	var out []entity.LabelModelRef
	if err := c.getJSON(ctx, c.apipath("datasets", datasetID, "clusters", cluster, "labels_available"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListScopes(ctx context.Context, datasetID string) ([]entity.Scope, error) {
	var out []entity.Scope
	if err := c.getJSON(ctx, c.apipath("datasets", datasetID, "scopes"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveScope stores draft as a new scope. An empty name lets the backend
// assign the next "scopes-NNN".
func (c *Client) SaveScope(ctx context.Context, datasetID string, draft entity.Scope) (entity.Scope, error) {
	body, err := json.Marshal(draft)
	if err != nil {
		return entity.Scope{}, fmt.Errorf("encode scope: %w", err)
	}
	var out entity.Scope
	if err := c.do(ctx, http.MethodPost, c.apipath("datasets", datasetID, "scopes", "save"), body, &out); err != nil {
		return entity.Scope{}, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, target string, v any) error {
	return c.do(ctx, http.MethodGet, target, nil, v)
}

// do sends one request, retrying transport failures and temporary statuses
// with fibonacci backoff.
func (c *Client) do(ctx context.Context, method, target string, body []byte, v any) error {
	b := retry.WithMaxRetries(c.retries, retry.NewFibonacci(c.backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := c.once(ctx, method, target, body, v)
		if err == nil {
			return nil
		}
		if isTemporary(ctx, err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Client) once(ctx context.Context, method, target string, body []byte, v any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	return unmarshalJSONResponse(resp, v)
}

func isTemporary(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
