package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/oklog/ulid/v2"

	"github.com/evebox/evebox-go/internal/evtypes"
)

// ElasticConfig configures the Elasticsearch sink.
type ElasticConfig struct {
	Addresses   []string
	Username    string
	Password    string
	IndexPrefix string
}

// ElasticSink persists records to Elasticsearch via the bulk API, rolling
// into a new daily index and deriving doc ids from the event timestamp so
// re-ingesting an unflushed tail after a restart is idempotent.
type ElasticSink struct {
	client      *elasticsearch.Client
	indexPrefix string

	mu      sync.Mutex
	pending []evtypes.Record
}

// OpenElastic constructs a client and ensures the index template used by
// the daily-rolled indices exists.
func OpenElastic(cfg ElasticConfig) (*ElasticSink, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("new elasticsearch client: %w", err)
	}

	s := &ElasticSink{client: client, indexPrefix: cfg.IndexPrefix}
	if err := s.ensureTemplate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Submit buffers rec for the next Commit; see SQLiteSink.Submit for why the
// bool is always false.
func (s *ElasticSink) Submit(rec evtypes.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, rec)
	return false, nil
}

// Pending reports the number of buffered, uncommitted records.
func (s *ElasticSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Commit bulk-indexes all buffered records and clears the buffer.
func (s *ElasticSink) Commit(ctx context.Context) (int, error) {
	s.mu.Lock()
	batch := s.pending
	s.mu.Unlock()

	if len(batch) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	for _, rec := range batch {
		ts, _ := rec.Timestamp()
		index := s.indexName(ts)
		id := docID(ts)

		meta, _ := json.Marshal(map[string]any{
			"index": map[string]any{"_index": index, "_id": id},
		})
		buf.Write(meta)
		buf.WriteByte('\n')

		doc, err := json.Marshal(rec)
		if err != nil {
			return 0, fmt.Errorf("marshal record: %w", err)
		}
		buf.Write(doc)
		buf.WriteByte('\n')
	}

	req := esapi.BulkRequest{Body: strings.NewReader(buf.String())}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return 0, fmt.Errorf("bulk request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("bulk request error: %s", res.Status())
	}
	var bulkResp struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return 0, fmt.Errorf("decode bulk response: %w", err)
	}
	if bulkResp.Errors {
		return 0, fmt.Errorf("bulk request reported item-level errors")
	}

	s.mu.Lock()
	s.pending = s.pending[len(batch):]
	s.mu.Unlock()

	return len(batch), nil
}

// indexName rolls over daily, e.g. "evebox-2024.03.05".
func (s *ElasticSink) indexName(ts time.Time) string {
	return fmt.Sprintf("%s-%s", s.indexPrefix, ts.UTC().Format("2006.01.02"))
}

// docID derives a deterministic ULID from the event timestamp so
// re-submitting the same bookmark-less tail after a crash upserts in place
// rather than duplicating.
func docID(ts time.Time) string {
	entropy := ulid.Monotonic(zeroReader{}, 0)
	id, err := ulid.New(ulid.Timestamp(ts), entropy)
	if err != nil {
		return ulid.MustNew(ulid.Now(), entropy).String()
	}
	return id.String()
}

// zeroReader supplies deterministic "randomness" so that two sinks fed the
// same timestamp stream produce the same ids, which is what makes re-ingest
// idempotent.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func (s *ElasticSink) ensureTemplate() error {
	template := map[string]any{
		"index_patterns": []string{s.indexPrefix + "-*"},
		"template": map[string]any{
			"settings": map[string]any{
				"number_of_shards":   1,
				"number_of_replicas": 0,
			},
			"mappings": map[string]any{
				"properties": map[string]any{
					"timestamp": map[string]any{"type": "date"},
				},
			},
		},
	}
	body, err := json.Marshal(template)
	if err != nil {
		return fmt.Errorf("marshal index template: %w", err)
	}

	req := esapi.IndicesPutIndexTemplateRequest{
		Name: s.indexPrefix + "-template",
		Body: bytes.NewReader(body),
	}
	res, err := req.Do(context.Background(), s.client)
	if err != nil {
		return fmt.Errorf("create index template: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index template error: %s", res.Status())
	}
	return nil
}
