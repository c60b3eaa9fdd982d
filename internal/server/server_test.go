package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/olist-insight/server/internal/agent/model"
	"github.com/olist-insight/server/internal/agent/repo"
	"github.com/olist-insight/server/internal/agent/router"
	errx "github.com/olist-insight/server/internal/core/error"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type scriptOracle struct {
	replies []string
	calls   int
}

func (o *scriptOracle) Complete(ctx context.Context, systemPrompt string, turns []model.Turn, maxTokens int) (string, error) {
	if o.calls >= len(o.replies) {
		return "", errx.New(nil, http.StatusBadGateway, errx.OracleErrorMessage)
	}
	r := o.replies[o.calls]
	o.calls++
	return r, nil
}

type fakeSQL struct{ err error }

func (f *fakeSQL) Query(ctx context.Context, question string, lang model.Lang) (*model.SQLQueryResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.SQLQueryResult{
		SQLUsed: "SELECT review_score FROM fact_order_items LIMIT 20",
		Result:  model.TableResult{Columns: []string{"review_score"}, Rows: [][]any{{int64(5)}}},
	}, nil
}

type fakeRAG struct{}

func (f *fakeRAG) Answer(ctx context.Context, query string) (*model.RAGAnswer, error) {
	return &model.RAGAnswer{Answer: "a product", Sources: []map[string]any{{"doc_id": "d1"}}}, nil
}

type fakeAnalytics struct{}

func (f *fakeAnalytics) Run(ctx context.Context, task string) (*model.AnalyticsOutput, error) {
	return &model.AnalyticsOutput{Summary: "done"}, nil
}

func newTestServer(orc *scriptOracle, sqlErr error) *Server {
	rt := router.New(orc, &fakeSQL{err: sqlErr}, &fakeRAG{}, &fakeAnalytics{})
	return New(rt, nil)
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(&scriptOracle{}, nil)
	rec := doRequest(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestChatEndpoint(t *testing.T) {
	orc := &scriptOracle{replies: []string{
		`{"intent":"sql","reason":"metric question","need_followup":false,"followup_question":""}`,
		"Jawaban akhir.",
	}}
	s := newTestServer(orc, nil)

	rec := doRequest(t, s, http.MethodPost, "/chat",
		`{"message":"berapa rata-rata review?","answer_lang":"id"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if out["final_answer"] != "Jawaban akhir." {
		t.Fatalf("final_answer = %v", out["final_answer"])
	}
	tools := out["used_tools"].([]any)
	if len(tools) != 1 || tools[0] != router.ToolSQL {
		t.Fatalf("used_tools = %v", tools)
	}
	state := out["state"].(map[string]any)
	if state["last_intent"] != "sql" {
		t.Fatalf("state = %v", state)
	}
	if _, present := out["tool_outputs"]; present {
		t.Fatal("tool_outputs leaked without show_debug")
	}
	if _, present := out["debug"]; present {
		t.Fatal("debug leaked without show_debug")
	}
}

func TestChatEndpointDebug(t *testing.T) {
	orc := &scriptOracle{replies: []string{
		`{"intent":"rag","reason":"descriptive","need_followup":false,"followup_question":""}`,
		"Answer.",
	}}
	s := newTestServer(orc, nil)

	rec := doRequest(t, s, http.MethodPost, "/chat",
		`{"message":"recommend a product","answer_lang":"en","show_debug":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	debug := out["debug"].(map[string]any)
	if debug["intent"] != "rag" {
		t.Fatalf("debug = %v", debug)
	}
	outputs := out["tool_outputs"].(map[string]any)
	if _, ok := outputs["rag"]; !ok {
		t.Fatalf("tool_outputs = %v", outputs)
	}
}

func TestChatEndpointRequiresMessage(t *testing.T) {
	s := newTestServer(&scriptOracle{}, nil)
	rec := doRequest(t, s, http.MethodPost, "/chat", `{"answer_lang":"id"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChatEndpointToolFailure(t *testing.T) {
	orc := &scriptOracle{replies: []string{
		`{"intent":"sql","reason":"","need_followup":false,"followup_question":""}`,
	}}
	s := newTestServer(orc, errx.UnsafeSQL("DROP TABLE x"))

	rec := doRequest(t, s, http.MethodPost, "/chat", `{"message":"drop it"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want AppError status to pass through", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "detail") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestChatEndpointStateRoundTrip(t *testing.T) {
	orc := &scriptOracle{replies: []string{
		`{"intent":"general","reason":"chitchat","need_followup":false,"followup_question":""}`,
		"Halo juga!",
	}}
	s := newTestServer(orc, nil)

	rec := doRequest(t, s, http.MethodPost, "/chat",
		`{"message":"halo","state":{"last_sql":"SELECT 1","last_intent":"sql"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	state := out["state"].(map[string]any)
	if state["last_sql"] != "SELECT 1" {
		t.Fatalf("threaded state lost: %v", state)
	}
	if state["last_intent"] != "general" {
		t.Fatalf("last_intent = %v", state["last_intent"])
	}
}

func TestChatEndpointErrorDetailScopedToDebug(t *testing.T) {
	newFailing := func() *Server {
		orc := &scriptOracle{replies: []string{
			`{"intent":"sql","reason":"","need_followup":false,"followup_question":""}`,
		}}
		return newTestServer(orc, errx.UnsafeSQL("DROP TABLE fact_order_items"))
	}

	t.Run("default response hides the cause", func(t *testing.T) {
		rec := doRequest(t, newFailing(), http.MethodPost, "/chat", `{"message":"drop it"}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d", rec.Code)
		}
		body := rec.Body.String()
		if strings.Contains(body, "DROP TABLE") {
			t.Fatalf("rejected SQL leaked: %s", body)
		}
		if !strings.Contains(body, errx.UnsafeSQLMessage) {
			t.Fatalf("expected safe message, got %s", body)
		}
	})

	t.Run("debug turn carries the cause", func(t *testing.T) {
		rec := doRequest(t, newFailing(), http.MethodPost, "/chat",
			`{"message":"drop it","show_debug":true}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "DROP TABLE fact_order_items") {
			t.Fatalf("expected wrapped detail on debug turn, got %s", rec.Body.String())
		}
	})
}

type fakeTranscripts struct {
	entries map[string][]repo.TranscriptEntry
	loadErr error
}

func newFakeTranscripts() *fakeTranscripts {
	return &fakeTranscripts{entries: map[string][]repo.TranscriptEntry{}}
}

func (f *fakeTranscripts) Append(ctx context.Context, id string, e repo.TranscriptEntry) error {
	f.entries[id] = append(f.entries[id], e)
	return nil
}

func (f *fakeTranscripts) Load(ctx context.Context, id string) ([]repo.TranscriptEntry, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.entries[id], nil
}

func (f *fakeTranscripts) Clear(ctx context.Context, id string) error {
	delete(f.entries, id)
	return nil
}

func TestTranscriptEndpoint(t *testing.T) {
	orc := &scriptOracle{replies: []string{
		`{"intent":"sql","reason":"","need_followup":false,"followup_question":""}`,
		"Final answer.",
	}}
	rt := router.New(orc, &fakeSQL{}, &fakeRAG{}, &fakeAnalytics{})
	transcripts := newFakeTranscripts()
	s := New(rt, transcripts)

	rec := doRequest(t, s, http.MethodPost, "/chat",
		`{"message":"avg review?","conversation_id":"c1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("chat status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet, "/conversations/c1/transcript", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("transcript status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out struct {
		ConversationID string                 `json:"conversation_id"`
		Turns          []repo.TranscriptEntry `json:"turns"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if out.ConversationID != "c1" {
		t.Fatalf("conversation_id = %q", out.ConversationID)
	}
	if len(out.Turns) != 2 {
		t.Fatalf("expected user + assistant turns, got %+v", out.Turns)
	}
	if out.Turns[0].Role != model.RoleUser || out.Turns[0].Content != "avg review?" {
		t.Fatalf("user turn = %+v", out.Turns[0])
	}
	if out.Turns[1].Role != model.RoleAssistant || out.Turns[1].Intent != model.IntentSQL {
		t.Fatalf("assistant turn = %+v", out.Turns[1])
	}
}

func TestTranscriptEndpointClear(t *testing.T) {
	orc := &scriptOracle{replies: []string{
		`{"intent":"general","reason":"","need_followup":false,"followup_question":""}`,
		"Hello.",
	}}
	rt := router.New(orc, &fakeSQL{}, &fakeRAG{}, &fakeAnalytics{})
	transcripts := newFakeTranscripts()
	s := New(rt, transcripts)

	doRequest(t, s, http.MethodPost, "/chat", `{"message":"hi","conversation_id":"c1"}`)

	rec := doRequest(t, s, http.MethodDelete, "/conversations/c1/transcript", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rec.Code)
	}
	if len(transcripts.entries["c1"]) != 0 {
		t.Fatalf("transcript not cleared: %+v", transcripts.entries["c1"])
	}
}

func TestTranscriptEndpointDisabled(t *testing.T) {
	s := newTestServer(&scriptOracle{}, nil)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec := doRequest(t, s, method, "/conversations/c1/transcript", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s status = %d, want 404 when persistence is off", method, rec.Code)
		}
	}
}

func TestTranscriptEndpointLoadFailure(t *testing.T) {
	rt := router.New(&scriptOracle{}, &fakeSQL{}, &fakeRAG{}, &fakeAnalytics{})
	transcripts := newFakeTranscripts()
	transcripts.loadErr = errx.New(nil, http.StatusBadGateway, errx.RedisErrorMessage)
	s := New(rt, transcripts)

	rec := doRequest(t, s, http.MethodGet, "/conversations/c1/transcript", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want AppError status to pass through", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), errx.RedisErrorMessage) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}
