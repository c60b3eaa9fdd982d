package router

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/olist-insight/server/internal/agent/model"
)

// scriptOracle replays canned completions; the first call answers the intent
// classification, the last answers the compose step.
type scriptOracle struct {
	replies []string
	err     error
	calls   int
	prompts []string
}

func (o *scriptOracle) Complete(ctx context.Context, systemPrompt string, turns []model.Turn, maxTokens int) (string, error) {
	o.prompts = append(o.prompts, turns[len(turns)-1].Content)
	if o.err != nil {
		return "", o.err
	}
	if o.calls >= len(o.replies) {
		return "", errors.New("script exhausted")
	}
	r := o.replies[o.calls]
	o.calls++
	return r, nil
}

type fakeSQL struct {
	res    *model.SQLQueryResult
	err    error
	called int
}

func (f *fakeSQL) Query(ctx context.Context, question string, lang model.Lang) (*model.SQLQueryResult, error) {
	f.called++
	return f.res, f.err
}

type fakeRAG struct {
	res    *model.RAGAnswer
	err    error
	called int
}

func (f *fakeRAG) Answer(ctx context.Context, query string) (*model.RAGAnswer, error) {
	f.called++
	return f.res, f.err
}

type fakeAnalytics struct {
	res    *model.AnalyticsOutput
	called int
}

func (f *fakeAnalytics) Run(ctx context.Context, task string) (*model.AnalyticsOutput, error) {
	f.called++
	return f.res, nil
}

func sqlResult() *model.SQLQueryResult {
	rows := make([][]any, 8)
	for i := range rows {
		rows[i] = []any{i}
	}
	return &model.SQLQueryResult{
		SQLInitial: "SELECT n FROM t",
		SQLUsed:    "SELECT n FROM t",
		Result:     model.TableResult{Columns: []string{"n"}, Rows: rows},
		Summary:    "eight rows",
	}
}

func ragResult() *model.RAGAnswer {
	sources := make([]map[string]any, 5)
	for i := range sources {
		sources[i] = map[string]any{"doc_id": i}
	}
	return &model.RAGAnswer{Answer: "some products", Sources: sources}
}

func routeReply(intent string) string {
	return `{"intent":"` + intent + `","reason":"r","need_followup":false,"followup_question":""}`
}

func newTestRouter(orc *scriptOracle) (*Router, *fakeSQL, *fakeRAG, *fakeAnalytics) {
	sqlTool := &fakeSQL{res: sqlResult()}
	ragTool := &fakeRAG{res: ragResult()}
	an := &fakeAnalytics{res: &model.AnalyticsOutput{Summary: "done"}}
	return New(orc, sqlTool, ragTool, an), sqlTool, ragTool, an
}

func TestChatSQLIntent(t *testing.T) {
	orc := &scriptOracle{replies: []string{routeReply("sql"), "final words"}}
	rt, sqlTool, ragTool, _ := newTestRouter(orc)

	resp, err := rt.Chat(context.Background(), model.TurnRequest{Message: "berapa order?"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if sqlTool.called != 1 || ragTool.called != 0 {
		t.Fatalf("dispatch calls sql=%d rag=%d", sqlTool.called, ragTool.called)
	}
	if len(resp.UsedTools) != 1 || resp.UsedTools[0] != ToolSQL {
		t.Fatalf("used_tools = %v", resp.UsedTools)
	}
	if resp.FinalAnswer != "final words" {
		t.Fatalf("final answer = %q", resp.FinalAnswer)
	}

	if resp.State.LastIntent != model.IntentSQL {
		t.Fatalf("last_intent = %v", resp.State.LastIntent)
	}
	if resp.State.LastSQL != "SELECT n FROM t" {
		t.Fatalf("last_sql = %q", resp.State.LastSQL)
	}
	if len(resp.State.LastSQLPreviewRows) != 5 {
		t.Fatalf("preview rows = %d, want cap of 5", len(resp.State.LastSQLPreviewRows))
	}
	if resp.State.LastRAGTopSources != nil {
		t.Fatal("rag state touched on a sql-only turn")
	}
}

func TestChatHybridRunsBothTools(t *testing.T) {
	orc := &scriptOracle{replies: []string{routeReply("hybrid"), "answer"}}
	rt, sqlTool, ragTool, an := newTestRouter(orc)

	resp, err := rt.Chat(context.Background(), model.TurnRequest{Message: "jelaskan dan hitung"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if sqlTool.called != 1 || ragTool.called != 1 || an.called != 0 {
		t.Fatalf("dispatch calls sql=%d rag=%d analytics=%d", sqlTool.called, ragTool.called, an.called)
	}
	want := []string{ToolSQL, ToolRAG}
	if len(resp.UsedTools) != 2 || resp.UsedTools[0] != want[0] || resp.UsedTools[1] != want[1] {
		t.Fatalf("used_tools = %v, want %v", resp.UsedTools, want)
	}
	if len(resp.State.LastRAGTopSources) != 3 {
		t.Fatalf("rag sources = %d, want cap of 3", len(resp.State.LastRAGTopSources))
	}
}

func TestChatUnknownIntentCoercesToHybrid(t *testing.T) {
	orc := &scriptOracle{replies: []string{routeReply("summarize"), "answer"}}
	rt, sqlTool, ragTool, _ := newTestRouter(orc)

	resp, err := rt.Chat(context.Background(), model.TurnRequest{Message: "do something"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if sqlTool.called != 1 || ragTool.called != 1 {
		t.Fatal("unknown intent must dispatch as hybrid")
	}
	if resp.State.LastIntent != model.IntentHybrid {
		t.Fatalf("last_intent = %v", resp.State.LastIntent)
	}
}

func TestChatGeneralIntentUsesNoTools(t *testing.T) {
	orc := &scriptOracle{replies: []string{routeReply("general"), "halo!"}}
	rt, sqlTool, ragTool, an := newTestRouter(orc)

	prior := model.ConversationState{
		LastSQL:           "SELECT 1",
		LastRAGTopSources: []map[string]any{{"doc_id": "d9"}},
	}
	raw, _ := json.Marshal(prior)

	resp, err := rt.Chat(context.Background(), model.TurnRequest{Message: "halo", State: raw})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if sqlTool.called+ragTool.called+an.called != 0 {
		t.Fatal("general turn must not dispatch tools")
	}
	if len(resp.UsedTools) != 0 {
		t.Fatalf("used_tools = %v", resp.UsedTools)
	}
	if resp.State.LastIntent != model.IntentGeneral {
		t.Fatalf("last_intent = %v", resp.State.LastIntent)
	}
	// untouched fields survive the turn
	if resp.State.LastSQL != "SELECT 1" {
		t.Fatalf("last_sql lost: %q", resp.State.LastSQL)
	}
	if len(resp.State.LastRAGTopSources) != 1 {
		t.Fatalf("rag sources lost: %v", resp.State.LastRAGTopSources)
	}
}

func TestChatAnalyticsIntent(t *testing.T) {
	orc := &scriptOracle{replies: []string{routeReply("analytics"), "insights below"}}
	rt, _, _, an := newTestRouter(orc)

	resp, err := rt.Chat(context.Background(), model.TurnRequest{Message: "analisa dataset"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if an.called != 1 {
		t.Fatal("analytics tool not dispatched")
	}
	if len(resp.UsedTools) != 1 || resp.UsedTools[0] != ToolAnalytics {
		t.Fatalf("used_tools = %v", resp.UsedTools)
	}
}

func TestRouteFallsBackOnOracleError(t *testing.T) {
	orc := &scriptOracle{err: errors.New("upstream down")}
	rt, _, _, _ := newTestRouter(orc)

	d := rt.Route(context.Background(), "msg", nil, model.ConversationState{}, model.LangID)
	if d.Intent != model.IntentHybrid {
		t.Fatalf("intent = %v, want hybrid fallback", d.Intent)
	}
	if d.Reason != "Fallback" {
		t.Fatalf("reason = %q", d.Reason)
	}
}

func TestRouteFallsBackOnGarbageReply(t *testing.T) {
	orc := &scriptOracle{replies: []string{"not json at all"}}
	rt, _, _, _ := newTestRouter(orc)

	d := rt.Route(context.Background(), "msg", nil, model.ConversationState{}, model.LangID)
	if d.Intent != model.IntentHybrid {
		t.Fatalf("intent = %v, want hybrid fallback", d.Intent)
	}
}

func TestChatToolErrorPropagates(t *testing.T) {
	orc := &scriptOracle{replies: []string{routeReply("sql"), "unreachable"}}
	rt, sqlTool, _, _ := newTestRouter(orc)
	sqlTool.err = errors.New("query failed")
	sqlTool.res = nil

	if _, err := rt.Chat(context.Background(), model.TurnRequest{Message: "hitung"}); err == nil {
		t.Fatal("tool failure must fail the turn")
	}
}

func TestChatDebugSurface(t *testing.T) {
	t.Run("debug on", func(t *testing.T) {
		orc := &scriptOracle{replies: []string{routeReply("sql"), "answer"}}
		rt, _, _, _ := newTestRouter(orc)

		resp, err := rt.Chat(context.Background(), model.TurnRequest{Message: "q", ShowDebug: true})
		if err != nil {
			t.Fatalf("Chat: %v", err)
		}
		if resp.Debug == nil || resp.Debug.Intent != model.IntentSQL {
			t.Fatalf("debug = %+v", resp.Debug)
		}
		if _, ok := resp.ToolOutputs["sql"]; !ok {
			t.Fatalf("tool_outputs = %v", resp.ToolOutputs)
		}
	})

	t.Run("debug off", func(t *testing.T) {
		orc := &scriptOracle{replies: []string{routeReply("sql"), "answer"}}
		rt, _, _, _ := newTestRouter(orc)

		resp, err := rt.Chat(context.Background(), model.TurnRequest{Message: "q"})
		if err != nil {
			t.Fatalf("Chat: %v", err)
		}
		if resp.Debug != nil || resp.ToolOutputs != nil {
			t.Fatal("debug surface leaked without show_debug")
		}
	})
}

func TestRoutePromptCarriesHistoryWindow(t *testing.T) {
	orc := &scriptOracle{replies: []string{routeReply("general")}}
	rt, _, _, _ := newTestRouter(orc)

	history := make([]model.Turn, 10)
	for i := range history {
		history[i] = model.Turn{Role: model.RoleUser, Content: string(rune('a' + i))}
	}

	rt.Route(context.Background(), "msg", history, model.ConversationState{}, model.LangID)

	prompt := orc.prompts[0]
	if strings.Contains(prompt, "user: a") {
		t.Fatal("history older than the window leaked into the prompt")
	}
	if !strings.Contains(prompt, "user: j") {
		t.Fatal("latest history turn missing from the prompt")
	}
}

func TestRenderHistoryEmpty(t *testing.T) {
	if got := renderHistory(nil); got != "(empty)" {
		t.Fatalf("renderHistory(nil) = %q", got)
	}
}
