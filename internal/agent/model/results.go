package model

// TableResult is the columns/rows pair a relational query produces.
type TableResult struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// SQLQueryResult is the full payload of one SQL-tool invocation.
// UsedFallback is true iff the initial query returned zero rows and a
// fallback query was generated, validated and executed.
type SQLQueryResult struct {
	Question     string      `json:"question"`
	AnswerLang   Lang        `json:"answer_lang"`
	SQLInitial   string      `json:"sql_initial"`
	SQLUsed      string      `json:"sql_used"`
	SQLFallback  string      `json:"sql_fallback"`
	UsedFallback bool        `json:"used_fallback"`
	Result       TableResult `json:"result"`
	Summary      string      `json:"summary"`
	Categories   []string    `json:"categories"`
}

// Document is one retrieval hit. Metadata carries provenance: either the
// side-table row for the hit's id, or the raw payload the search backend
// attached. It never contains fields invented outside the corpus.
type Document struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// RAGAnswer is the retrieval tool's final payload.
type RAGAnswer struct {
	Answer  string           `json:"answer"`
	Sources []map[string]any `json:"sources"`
}

// Insight is one entry of the analytics artifact.
type Insight struct {
	Title    string `json:"title"`
	Finding  string `json:"finding"`
	Evidence string `json:"evidence"`
	Impact   string `json:"impact"`
}

// AnalyticsArtifact is the bounded, UI-ready output of the analytics
// pipeline. Insights always has exactly five entries: short lists are padded
// with a fixed insufficient-data placeholder, long lists truncated.
type AnalyticsArtifact struct {
	Headline      string    `json:"headline"`
	Insights      []Insight `json:"insights"`
	NextQuestions []string  `json:"next_questions"`
}

// AnalyticsOutput is what the pipeline hands back to the router: the artifact
// plus small bounded extras for debugging. Never the full merged table.
type AnalyticsOutput struct {
	Summary   string            `json:"summary"`
	Analytics AnalyticsArtifact `json:"analytics"`
	Shape     []int             `json:"shape"`
	Columns   []string          `json:"columns"`
	Preview   []map[string]any  `json:"preview"`
}
