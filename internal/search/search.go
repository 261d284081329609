package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultActivity ResultType = "activity"
	ResultPost     ResultType = "post"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	OwnerID  string     `json:"ownerId"`
	Handle   string     `json:"handle"`
	Category string     `json:"category,omitempty"`
	Status   string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	FilterCategory string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexActivity(a ActivityRecord) error
	IndexPost(p PostRecord) error
	DeletePost(id string) error
}

// ActivityRecord is the data we index for a civic activity. Only approved
// activities are indexed: pending claims stay out of public search.
type ActivityRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Category    string `json:"category"`
	Status      string `json:"status"`
	OwnerID     string `json:"ownerId"`
	OwnerHandle string `json:"ownerHandle"`
}

// PostRecord is the data we index for a post.
type PostRecord struct {
	ID           string `json:"id"`
	Body         string `json:"body"`
	AuthorID     string `json:"authorId"`
	AuthorHandle string `json:"authorHandle"`
}
