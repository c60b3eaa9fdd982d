// Package ragtool answers descriptive product questions by embedding the
// query, running a nearest-neighbor lookup, joining hits against a side table
// of product metadata, and asking the oracle to answer strictly from that
// context.
package ragtool

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/embedding"

	"github.com/olist-insight/server/internal/agent/model"
	"github.com/olist-insight/server/internal/agent/oracle"
	errx "github.com/olist-insight/server/internal/core/error"
	logx "github.com/olist-insight/server/pkg/logger"
)

// Embedder turns texts into vectors, one per input, order preserved. This is
// the eino embedding contract, so the openai embedding component satisfies it
// directly.
type Embedder = embedding.Embedder

// Tool performs retrieval-augmented answering over the product corpus.
type Tool struct {
	embedder Embedder
	searcher Searcher
	orc      oracle.Oracle
	topK     int
	meta     map[string]metaRow
}

type metaRow struct {
	productID      string
	categoryEn     string
	sellerID       string
	sellerCity     string
	avgReviewScore float64
	docText        string
}

// New builds the tool from injected clients and the metadata side table.
// A missing or malformed side table is fatal at construction.
func New(cfg model.RAGConfig, orc oracle.Oracle, embedder Embedder, searcher Searcher) (*Tool, error) {
	meta, err := loadProductTable(cfg.ProductsPath)
	if err != nil {
		return nil, err
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}

	logx.Debug().Int("products", len(meta)).Int("top_k", topK).Msg("rag tool initialised")
	return &Tool{
		embedder: embedder,
		searcher: searcher,
		orc:      orc,
		topK:     topK,
		meta:     meta,
	}, nil
}

func loadProductTable(path string) (map[string]metaRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errx.New(fmt.Errorf("product metadata not found at %s", path), http.StatusInternalServerError, errx.MissingDataMessage)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read product metadata header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	if _, ok := idx["doc_id"]; !ok {
		return nil, fmt.Errorf("product metadata at %s must have a doc_id column", path)
	}

	field := func(rec []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	meta := make(map[string]metaRow)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read product metadata: %w", err)
		}
		score, _ := strconv.ParseFloat(field(rec, "avg_review_score"), 64)
		meta[field(rec, "doc_id")] = metaRow{
			productID:      field(rec, "product_id"),
			categoryEn:     field(rec, "product_category_en"),
			sellerID:       field(rec, "seller_id"),
			sellerCity:     field(rec, "seller_city"),
			avgReviewScore: score,
			docText:        field(rec, "doc_text"),
		}
	}
	return meta, nil
}

// Search embeds the query, runs the nearest-neighbor lookup and enriches
// each hit with side-table metadata. Hits missing from the side table fall
// back to whatever payload the backend attached. Ordering is the backend's
// relevance order; it is never re-sorted here.
func (t *Tool) Search(ctx context.Context, query string) ([]model.Document, error) {
	vecs, err := t.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedder returned no vector")
	}

	hits, err := t.searcher.Query(ctx, vecs[0], t.topK)
	if err != nil {
		return nil, errx.New(err, http.StatusBadGateway, errx.SearchErrorMessage)
	}
	if len(hits) > t.topK {
		hits = hits[:t.topK]
	}

	docs := make([]model.Document, 0, len(hits))
	for _, h := range hits {
		row, ok := t.meta[h.ID]
		if !ok {
			payload := h.Payload
			if payload == nil {
				payload = map[string]any{}
			}
			text, _ := payload["doc_text"].(string)
			docs = append(docs, model.Document{ID: h.ID, Text: text, Metadata: payload})
			continue
		}
		docs = append(docs, model.Document{
			ID:   h.ID,
			Text: row.docText,
			Metadata: map[string]any{
				"product_id":          row.productID,
				"product_category_en": row.categoryEn,
				"seller_id":           row.sellerID,
				"seller_city":         row.sellerCity,
				"avg_review_score":    row.avgReviewScore,
				"score":               h.Score,
			},
		})
	}
	return docs, nil
}

// productLabel derives the human-readable label used in place of a product
// name, since the corpus has none.
func productLabel(m map[string]any) string {
	category, _ := m["product_category_en"].(string)
	if category == "" {
		category = "Unknown category"
	}
	city, _ := m["seller_city"].(string)
	if city == "" {
		city = "Unknown city"
	}
	return fmt.Sprintf("%s product (seller in %s)", category, city)
}

// Answer retrieves candidates and asks the oracle to answer strictly from
// their metadata, in the same language as the query. The never-invent-a-name
// rule is enforced at the prompt level only; it is a best-effort guarantee,
// not programmatically verifiable.
func (t *Tool) Answer(ctx context.Context, query string) (*model.RAGAnswer, error) {
	docs, err := t.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	var lines []string
	for i, d := range docs {
		m := d.Metadata
		lines = append(lines, fmt.Sprintf(
			"%d. label=%s | product_id=%v | avg_review_score=%v",
			i+1, productLabel(m), m["product_id"], m["avg_review_score"]))
	}
	contextText := "(no candidates found)"
	if len(lines) > 0 {
		contextText = strings.Join(lines, "\n")
	}

	system := "You are an e-commerce product analyst.\n" +
		"You receive candidate products with metadata.\n" +
		"IMPORTANT RULES:\n" +
		"- The dataset does NOT contain product names.\n" +
		"- NEVER invent product names.\n" +
		"- Use the provided label (category + seller city) instead.\n" +
		"- Be clear and honest about what the product represents."

	user := fmt.Sprintf(
		"Answer in the same language as the user's question.\n\n"+
			"User question:\n%s\n\n"+
			"Candidate products:\n%s\n\n"+
			"Output format:\n"+
			"1) A short recommendation paragraph.\n"+
			"2) A bullet list of products in the format:\n"+
			"- Product: <label>, Rating: <avg_review_score>, Product ID: <product_id>\n"+
			"3) Do not mention that the data has no product names unless asked.",
		query, contextText)

	answer, err := t.orc.Complete(ctx, system, []model.Turn{{Role: "user", Content: user}}, 600)
	if err != nil {
		return nil, err
	}

	sources := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		m := make(map[string]any, len(d.Metadata)+2)
		for k, v := range d.Metadata {
			m[k] = v
		}
		m["doc_id"] = d.ID
		m["product_label"] = productLabel(d.Metadata)
		sources = append(sources, m)
	}

	return &model.RAGAnswer{Answer: answer, Sources: sources}, nil
}
