// Package elastic drives CRUD cycles against an Elasticsearch index through
// the typed esapi requests.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"crudstress/internal/target"
)

type Config struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
	// Refresh is passed on every write: "false", "true" or "wait_for".
	Refresh string
	// Transport overrides the HTTP round tripper. Each worker still gets
	// its own client.
	Transport http.RoundTripper
}

const mapping = `{
  "mappings": {
    "properties": {
      "key":        {"type": "keyword"},
      "seq":        {"type": "long"},
      "name":       {"type": "keyword"},
      "text":       {"type": "text"},
      "created_at": {"type": "date"},
      "updated":    {"type": "boolean"},
      "updated_at": {"type": "date"}
    }
  }
}`

type Target struct {
	cfg   Config
	admin *elasticsearch.Client
	log   *zap.Logger
}

var _ target.Target = (*Target)(nil)

// New builds the admin client and checks the cluster answers.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Target, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Index == "" {
		cfg.Index = "crud_records"
	}
	addrs := make([]string, len(cfg.Addresses))
	for i, a := range cfg.Addresses {
		if !strings.HasPrefix(a, "http://") && !strings.HasPrefix(a, "https://") {
			a = "http://" + a
		}
		addrs[i] = a
	}
	cfg.Addresses = addrs

	admin, _, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	res, err := esapi.InfoRequest{}.Do(ctx, admin)
	if err != nil {
		return nil, fmt.Errorf("ping cluster: %w", err)
	}
	if err := check(res, "ping cluster"); err != nil {
		return nil, err
	}

	log.Info("connected",
		zap.Strings("addresses", cfg.Addresses),
		zap.String("index", cfg.Index))
	return &Target{cfg: cfg, admin: admin, log: log}, nil
}

// newClient returns a client with its own connection pool. The returned
// transport is nil when cfg.Transport is set.
func newClient(cfg Config) (*elasticsearch.Client, *http.Transport, error) {
	var owned *http.Transport
	rt := cfg.Transport
	if rt == nil {
		owned = http.DefaultTransport.(*http.Transport).Clone()
		owned.MaxIdleConnsPerHost = 4
		rt = owned
	}
	c, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: rt,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create client: %w", err)
	}
	return c, owned, nil
}

func (t *Target) Name() string { return "elastic" }

func (t *Target) Open(_ context.Context, worker int) (target.Session, error) {
	c, tr, err := newClient(t.cfg)
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", worker, err)
	}
	return &session{es: c, tr: tr, index: t.cfg.Index, refresh: t.cfg.Refresh}, nil
}

// Reset drops and recreates the index.
func (t *Target) Reset(ctx context.Context) error {
	ignore := true
	res, err := esapi.IndicesDeleteRequest{
		Index:             []string{t.cfg.Index},
		IgnoreUnavailable: &ignore,
	}.Do(ctx, t.admin)
	if err != nil {
		return fmt.Errorf("delete index: %w", err)
	}
	if err := check(res, "delete index"); err != nil {
		return err
	}

	res, err = esapi.IndicesCreateRequest{
		Index: t.cfg.Index,
		Body:  strings.NewReader(mapping),
	}.Do(ctx, t.admin)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return check(res, "create index")
}

// Count refreshes the index so recent deletes are visible, then counts.
func (t *Target) Count(ctx context.Context) (int64, error) {
	res, err := esapi.IndicesRefreshRequest{Index: []string{t.cfg.Index}}.Do(ctx, t.admin)
	if err != nil {
		return 0, fmt.Errorf("refresh: %w", err)
	}
	if err := check(res, "refresh"); err != nil {
		return 0, err
	}

	return count(ctx, t.admin, t.cfg.Index, nil)
}

// count runs _count, with query as the request body when set.
func count(ctx context.Context, es *elasticsearch.Client, index string, query io.Reader) (int64, error) {
	res, err := esapi.CountRequest{Index: []string{index}, Body: query}.Do(ctx, es)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("count: %s", res.Status())
	}
	var body struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode count: %w", err)
	}
	return body.Count, nil
}

func (t *Target) Close() error { return nil }

type session struct {
	es      *elasticsearch.Client
	tr      *http.Transport
	index   string
	refresh string
}

func (s *session) Create(ctx context.Context, rec target.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	res, err := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: rec.Key,
		Body:       bytes.NewReader(b),
		OpType:     "create",
		Refresh:    s.refresh,
	}.Do(ctx, s.es)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	return check(res, "index")
}

func (s *session) Read(ctx context.Context, key string) error {
	res, err := esapi.GetRequest{Index: s.index, DocumentID: key}.Do(ctx, s.es)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	return check(res, "get")
}

func (s *session) Update(ctx context.Context, key string, at time.Time) error {
	b, err := json.Marshal(map[string]any{
		"doc": map[string]any{"updated": true, "updated_at": at},
	})
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	res, err := esapi.UpdateRequest{
		Index:      s.index,
		DocumentID: key,
		Body:       bytes.NewReader(b),
		Refresh:    s.refresh,
	}.Do(ctx, s.es)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	return check(res, "update")
}

func (s *session) Delete(ctx context.Context, key string) error {
	res, err := esapi.DeleteRequest{
		Index:      s.index,
		DocumentID: key,
		Refresh:    s.refresh,
	}.Do(ctx, s.es)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return check(res, "delete")
}

// Search counts documents whose text field matches keyword.
func (s *session) Search(ctx context.Context, keyword string) (int64, error) {
	q, err := json.Marshal(map[string]any{
		"query": map[string]any{"match": map[string]any{"text": keyword}},
	})
	if err != nil {
		return 0, fmt.Errorf("encode query: %w", err)
	}
	n, err := count(ctx, s.es, s.index, bytes.NewReader(q))
	if err != nil {
		return 0, fmt.Errorf("search: %w", err)
	}
	return n, nil
}

func (s *session) Close(_ context.Context) error {
	if s.tr != nil {
		s.tr.CloseIdleConnections()
	}
	return nil
}

// check drains and closes the body. Non-2xx is an error; 404 maps to
// target.ErrNotFound.
func check(res *esapi.Response, op string) error {
	defer res.Body.Close()
	if !res.IsError() {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, target.ErrNotFound)
	}
	msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
	return fmt.Errorf("%s: %s: %s", op, res.Status(), bytes.TrimSpace(msg))
}
