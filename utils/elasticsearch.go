package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"playzone-consent/models"
)

type ElasticsearchClient interface {
	IndexConsent(ctx context.Context, doc models.ConsentDocument) error
	SearchConsents(ctx context.Context, text string, limit int) ([]models.ConsentDocument, error)
	DeleteConsent(ctx context.Context, id string) error
	Close() error
}

type elasticsearchClient struct {
	client *elasticsearch.Client
	index  string
}

func NewElasticsearchClient(url, index string) (ElasticsearchClient, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{url},
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	res, err := es.Ping()
	if err != nil {
		return nil, fmt.Errorf("failed to ping Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("Elasticsearch ping error: %s", res.Status())
	}

	return &elasticsearchClient{client: es, index: index}, nil
}

// Close is a no-op; the client holds no connections of its own.
func (e *elasticsearchClient) Close() error {
	return nil
}

func (e *elasticsearchClient) IndexConsent(ctx context.Context, doc models.ConsentDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      e.index,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(body),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("Elasticsearch error: %s", res.String())
	}

	return nil
}

// SearchConsents matches text against parent and child names and the mobile.
func (e *elasticsearchClient) SearchConsents(ctx context.Context, text string, limit int) ([]models.ConsentDocument, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(searchQuery(text, limit)); err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.index),
		e.client.Search.WithBody(&buf),
		e.client.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("Elasticsearch error: %s", res.String())
	}

	var r struct {
		Hits struct {
			Hits []struct {
				Source models.ConsentDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]models.ConsentDocument, len(r.Hits.Hits))
	for i, hit := range r.Hits.Hits {
		results[i] = hit.Source
	}
	return results, nil
}

func searchQuery(text string, limit int) map[string]any {
	if limit <= 0 {
		limit = 20
	}
	return map[string]any{
		"size": limit,
		"sort": []any{map[string]any{"submittedAt": map[string]any{"order": "desc"}}},
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  text,
				"fields": []string{"parentName", "children.legalName", "children.displayName", "mobile"},
			},
		},
	}
}

func (e *elasticsearchClient) DeleteConsent(ctx context.Context, id string) error {
	req := esapi.DeleteRequest{
		Index:      e.index,
		DocumentID: id,
		Refresh:    "true",
	}

	res, err := req.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("Elasticsearch error: %s", res.String())
	}

	return nil
}
