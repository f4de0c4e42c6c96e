package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultChapter       ResultType = "chapter"
	ResultCommunication ResultType = "communication"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ChapterID string     `json:"chapterId"`
	Channel   string     `json:"channel,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterChapterID string
	Limit           int
	Offset          int
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

// ChapterRecord is the data we index for a chapter.
type ChapterRecord struct {
	ID          string `json:"id"`
	ReportState string `json:"reportState"`
	ChapterType string `json:"chapterType"`
	AuthorName  string `json:"authorName"`
	CurrentStep string `json:"currentStep"`
	Notes       string `json:"notes"`
}

// CommunicationRecord is the data we index for a logged communication.
type CommunicationRecord struct {
	ID        string `json:"id"`
	ChapterID string `json:"chapterId"`
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}
