package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID            string `json:"id"`
	ProjectID     string `json:"projectId"`
	ThreadName    string `json:"threadName"`
	Snippet       string `json:"snippet"`
	ImageFilename string `json:"imageFilename,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text      string
	ProjectID string // empty = all projects
	Limit     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over extracted threads.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ThreadRecord is the data we index for one extracted thread: its name and
// the concatenated bodies of its pin comments.
type ThreadRecord struct {
	ID            string `json:"id"`
	ProjectID     string `json:"projectId"`
	Name          string `json:"name"`
	Body          string `json:"body"`
	ImageFilename string `json:"imageFilename"`
}
