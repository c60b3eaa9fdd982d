package ragtool

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	openaiembed "github.com/cloudwego/eino-ext/components/embedding/openai"

	"github.com/olist-insight/server/internal/agent/model"
)

// Hit is one nearest-neighbor result in the backend's relevance order.
type Hit struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Searcher is the opaque nearest-neighbor backend.
type Searcher interface {
	Query(ctx context.Context, vector []float64, limit int) ([]Hit, error)
}

// QdrantSearcher implements Searcher over a Qdrant collection.
type QdrantSearcher struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantSearcher connects to Qdrant and fails fast when the endpoint is
// misconfigured.
func NewQdrantSearcher(cfg model.RAGConfig) (*QdrantSearcher, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.QdrantHost,
		Port:   cfg.QdrantPort,
		APIKey: cfg.QdrantAPIKey,
		UseTLS: cfg.QdrantUseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return &QdrantSearcher{client: client, collection: cfg.Collection}, nil
}

// Query performs a nearest-neighbor lookup with payloads attached.
func (s *QdrantSearcher) Query(ctx context.Context, vector []float64, limit int) ([]Hit, error) {
	vec := make([]float32, len(vector))
	for i, v := range vector {
		vec[i] = float32(v)
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		payload := make(map[string]any, len(p.Payload))
		for k, v := range p.Payload {
			payload[k] = qdrantValue(v)
		}
		hits = append(hits, Hit{
			ID:      pointID(p.Id),
			Score:   float64(p.Score),
			Payload: payload,
		})
	}
	return hits, nil
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func qdrantValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch k := v.GetKind().(type) {
	case *qdrant.Value_NullValue:
		return nil
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_ListValue:
		vals := k.ListValue.GetValues()
		out := make([]any, len(vals))
		for i, e := range vals {
			out[i] = qdrantValue(e)
		}
		return out
	case *qdrant.Value_StructValue:
		fields := k.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for name, e := range fields {
			out[name] = qdrantValue(e)
		}
		return out
	default:
		return nil
	}
}

// NewOpenAIEmbedder builds the production embedding client.
func NewOpenAIEmbedder(ctx context.Context, apiKey, baseURL string, cfg model.RAGConfig) (Embedder, error) {
	emb, err := openaiembed.NewEmbedder(ctx, &openaiembed.EmbeddingConfig{
		APIKey:  apiKey,
		BaseURL: baseURL,
		Model:   cfg.EmbeddingModel,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	return emb, nil
}
