package model

// ================ Config ================
type OracleConfig struct {
	Provider     string  `envconfig:"ORACLE_PROVIDER" default:"openai"`
	APIKey       string  `envconfig:"OPENAI_API_KEY"`
	GeminiAPIKey string  `envconfig:"GEMINI_API_KEY"`
	BaseURL      string  `envconfig:"ORACLE_BASE_URL"`
	ChatModel    string  `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`
	Temperature  float32 `envconfig:"ORACLE_TEMPERATURE" default:"0.2"`
	MaxTokens    int     `envconfig:"ORACLE_MAX_TOKENS" default:"800"`
}

type SQLToolConfig struct {
	DBPath string `envconfig:"SQLITE_DB_PATH" default:"app/db/olist.db"`
	TopN   int    `envconfig:"SQL_TOP_N" default:"20"`
}

type RAGConfig struct {
	QdrantHost     string `envconfig:"QDRANT_HOST" default:"localhost"`
	QdrantPort     int    `envconfig:"QDRANT_PORT" default:"6334"`
	QdrantAPIKey   string `envconfig:"QDRANT_API_KEY"`
	QdrantUseTLS   bool   `envconfig:"QDRANT_USE_TLS" default:"false"`
	Collection     string `envconfig:"RAG_COLLECTION" default:"olist_products"`
	TopK           int    `envconfig:"RAG_TOP_K" default:"5"`
	ProductsPath   string `envconfig:"RAG_PRODUCTS_PATH" default:"data/processed/rag_products.csv"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
}

type AnalyticsConfig struct {
	DBPath      string `envconfig:"SQLITE_DB_PATH" default:"app/db/olist.db"`
	PreviewRows int    `envconfig:"ANALYTICS_PREVIEW_ROWS" default:"20"`
}

type ServerConfig struct {
	Addr string `envconfig:"SERVER_ADDR" default:":8000"`
}

type TranscriptConfig struct {
	Enabled  bool   `envconfig:"TRANSCRIPT_ENABLED" default:"false"`
	TTL      string `envconfig:"TRANSCRIPT_TTL" default:"24h"`
	MaxTurns int    `envconfig:"TRANSCRIPT_MAX_TURNS" default:"200"`
}
