package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultTerm    ResultType = "term"
	ResultArticle ResultType = "article"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Lang     string     `json:"lang"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	Category string     `json:"category,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	Lang       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
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

// TermRecord is the data indexed for a glossary term. UID disambiguates the
// same term across languages; the index primary key must be globally unique.
type TermRecord struct {
	UID        string `json:"uid"`
	ID         string `json:"id"`
	Lang       string `json:"lang"`
	Term       string `json:"term"`
	Definition string `json:"definition"`
	Category   string `json:"category"`
}

// ArticleRecord is the data indexed for a journal article.
type ArticleRecord struct {
	UID      string `json:"uid"`
	ID       string `json:"id"`
	Lang     string `json:"lang"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Abstract string `json:"abstract"`
	Author   string `json:"author"`
}

// RecordUID builds the composite index key.
func RecordUID(id, lang string) string {
	return id + "-" + lang
}
