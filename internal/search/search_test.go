package search

import (
	"encoding/json"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
)

func TestDocumentIDStable(t *testing.T) {
	a := documentID("proj_1", "Header Issue")
	b := documentID("proj_1", "Header Issue")
	if a != b {
		t.Fatalf("documentID not stable: %q vs %q", a, b)
	}
	if a == documentID("proj_2", "Header Issue") {
		t.Fatal("documentID ignores project")
	}
}

func TestHitToResult(t *testing.T) {
	hit := meili.Hit{
		"id":            json.RawMessage(`"abc"`),
		"projectId":     json.RawMessage(`"proj_1"`),
		"name":          json.RawMessage(`"Header Issue"`),
		"imageFilename": json.RawMessage(`"header.png"`),
		"body":          json.RawMessage(`"the logo is cut off"`),
		"_formatted":    json.RawMessage(`{"body":"the <em>logo</em> is cut off"}`),
	}
	r := hitToResult(hit)
	if r.ID != "abc" || r.ProjectID != "proj_1" || r.ThreadName != "Header Issue" {
		t.Fatalf("unexpected result: %+v", r)
	}
	if r.Snippet != "the <em>logo</em> is cut off" {
		t.Fatalf("snippet should prefer _formatted, got %q", r.Snippet)
	}
	if r.ImageFilename != "header.png" {
		t.Fatalf("imageFilename = %q", r.ImageFilename)
	}
}

func TestHitToResultPlainBody(t *testing.T) {
	hit := meili.Hit{
		"id":   json.RawMessage(`"abc"`),
		"body": json.RawMessage(`"plain body"`),
	}
	if got := hitToResult(hit).Snippet; got != "plain body" {
		t.Fatalf("snippet = %q", got)
	}
}
