package search

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxThreads = "redline_threads"

// Meili indexes extracted threads in a Meilisearch instance. It keeps a
// health flag so callers can fall back to Postgres when the instance is
// unreachable.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili connects to Meilisearch and configures the thread index. The
// returned client starts unhealthy if the instance cannot be reached; a
// background loop keeps probing it.
func NewMeili(host, apiKey string) *Meili {
	client := meili.New(host, meili.WithAPIKey(apiKey))
	m := &Meili{client: client, done: make(chan struct{})}

	if _, err := client.Health(); err != nil {
		log.Printf("meilisearch unreachable at startup: %v", err)
	} else if err := m.configureIndex(); err != nil {
		log.Printf("configure meilisearch index: %v", err)
	} else {
		m.healthy.Store(true)
	}

	go m.healthLoop()
	return m
}

// Healthy reports whether the last health probe succeeded.
func (m *Meili) Healthy() bool { return m.healthy.Load() }

// Close stops the background health loop.
func (m *Meili) Close() { close(m.done) }

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			was := m.healthy.Load()
			now := err == nil
			if now && !was {
				if cerr := m.configureIndex(); cerr != nil {
					log.Printf("meilisearch recovered but index config failed: %v", cerr)
					continue
				}
				log.Printf("meilisearch recovered")
			}
			if !now && was {
				log.Printf("meilisearch became unhealthy: %v", err)
			}
			m.healthy.Store(now)
		}
	}
}

func (m *Meili) configureIndex() error {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxThreads, PrimaryKey: "id"}); err != nil {
		// Index may already exist; settings update below is what matters.
		log.Printf("create index %s: %v", idxThreads, err)
	}
	idx := m.client.Index(idxThreads)
	searchable := []string{"name", "body"}
	if _, err := idx.UpdateSearchableAttributes(&searchable); err != nil {
		return err
	}
	filterable := []interface{}{"projectId"}
	if _, err := idx.UpdateFilterableAttributes(&filterable); err != nil {
		return err
	}
	return nil
}

// IndexThreads upserts the given thread records. Document IDs are derived
// from project and thread name so a re-extraction replaces the previous
// documents instead of accumulating duplicates.
func (m *Meili) IndexThreads(records []ThreadRecord) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]ThreadRecord, len(records))
	for i, r := range records {
		r.ID = documentID(r.ProjectID, r.Name)
		docs[i] = r
	}
	_, err := m.client.Index(idxThreads).AddDocuments(docs, nil)
	return err
}

// Search runs a full-text query against the thread index.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	req := meili.SearchRequest{
		IndexUID:              idxThreads,
		Query:                 q.Text,
		Limit:                 int64(limit),
		AttributesToHighlight: []string{"name", "body"},
		AttributesToCrop:      []string{"body"},
		CropLength:            24,
	}
	if q.ProjectID != "" {
		req.Filter = fmt.Sprintf("projectId = %q", q.ProjectID)
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{&req},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var out []Result
	total := 0
	for _, res := range resp.Results {
		total += int(res.EstimatedTotalHits)
		for _, hit := range res.Hits {
			out = append(out, hitToResult(hit))
		}
	}
	return out, total, nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		ID:            decodeString(hit, "id"),
		ProjectID:     decodeString(hit, "projectId"),
		ThreadName:    decodeString(hit, "name"),
		ImageFilename: decodeString(hit, "imageFilename"),
	}
	r.Snippet = decodeFormattedString(hit, "body")
	if r.Snippet == "" {
		r.Snippet = decodeString(hit, "body")
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return formatted[key]
}

func documentID(projectID, name string) string {
	sum := sha1.Sum([]byte(projectID + "/" + name))
	return hex.EncodeToString(sum[:])
}
