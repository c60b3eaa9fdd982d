// Package router is the control plane of the assistant: it classifies each
// incoming turn into one of five intents, dispatches synchronously to the
// matching tool(s) in a fixed order, composes the final prose answer from the
// sanitized tool payloads, and folds tool results back into the
// caller-threaded conversation state.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/olist-insight/server/internal/agent/model"
	"github.com/olist-insight/server/internal/agent/oracle"
	"github.com/olist-insight/server/internal/agent/sanitize"
	logx "github.com/olist-insight/server/pkg/logger"
)

// Tool names as reported in used_tools, in dispatch order.
const (
	ToolSQL       = "SQLAgent"
	ToolRAG       = "RAGAgent"
	ToolAnalytics = "OrchestratorAgent"
)

const (
	routeMaxTokens   = 220
	composeMaxTokens = 900
	historyWindow    = 6
	statePreviewRows = 5
	stateTopSources  = 3
)

// SQLTool answers aggregation questions against the relational warehouse.
type SQLTool interface {
	Query(ctx context.Context, question string, lang model.Lang) (*model.SQLQueryResult, error)
}

// RAGTool answers descriptive questions from the product corpus.
type RAGTool interface {
	Answer(ctx context.Context, query string) (*model.RAGAnswer, error)
}

// AnalyticsTool runs the fixed EDA-and-insights pipeline.
type AnalyticsTool interface {
	Run(ctx context.Context, task string) (*model.AnalyticsOutput, error)
}

// Router owns one turn end to end. It holds no per-conversation state; state
// travels with the request.
type Router struct {
	orc       oracle.Oracle
	sql       SQLTool
	rag       RAGTool
	analytics AnalyticsTool
}

// New wires a router over the three tools.
func New(orc oracle.Oracle, sql SQLTool, rag RAGTool, analytics AnalyticsTool) *Router {
	return &Router{orc: orc, sql: sql, rag: rag, analytics: analytics}
}

const routeSystemPrompt = "You are an intent router for a multi-agent analytics chatbot.\n" +
	"Return ONLY valid JSON.\n\n" +
	"Intents:\n" +
	"- sql: aggregation/metrics\n" +
	"- rag: descriptive/recommendation\n" +
	"- analytics: dataset analysis/EDA/insights\n" +
	"- hybrid: sql + explanation/context (SQL+RAG)\n" +
	"- general: casual chat\n"

// Route classifies one message. Every failure mode, from transport errors to
// unparseable or unknown replies, lands on the hybrid fallback so a turn is
// never lost to a routing hiccup.
func (r *Router) Route(ctx context.Context, message string, history []model.Turn, state model.ConversationState, lang model.Lang) model.RoutingDecision {
	fallback := model.RoutingDecision{Intent: model.IntentHybrid, Reason: "Fallback"}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		stateJSON = []byte("{}")
	}

	user := fmt.Sprintf(
		"Language: %s\n\nHistory:\n%s\n\nState:\n%s\n\nUser message:\n%s\n\n"+
			"Return JSON with keys: intent, reason, need_followup, followup_question.",
		lang, renderHistory(history), stateJSON, message)

	raw, err := r.orc.Complete(ctx, routeSystemPrompt, []model.Turn{{Role: model.RoleUser, Content: user}}, routeMaxTokens)
	if err != nil {
		logx.Warn().Err(err).Msg("intent classification failed, routing hybrid")
		return fallback
	}

	obj, ok := oracle.ExtractJSON(raw)
	if !ok {
		logx.Warn().Str("reply", raw).Msg("intent reply not parseable, routing hybrid")
		return fallback
	}

	return model.RoutingDecision{
		Intent:           model.ParseIntent(oracle.StringField(obj, "intent")),
		Reason:           strings.TrimSpace(oracle.StringField(obj, "reason")),
		NeedFollowup:     oracle.BoolField(obj, "need_followup"),
		FollowupQuestion: strings.TrimSpace(oracle.StringField(obj, "followup_question")),
	}
}

// renderHistory flattens the last turns to "role: content" lines.
func renderHistory(history []model.Turn) string {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	if len(history) == 0 {
		return "(empty)"
	}
	lines := make([]string, 0, len(history))
	for _, t := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", t.Role, t.Content))
	}
	return strings.Join(lines, "\n")
}

// Chat executes one full turn: route, dispatch, compose, update state.
func (r *Router) Chat(ctx context.Context, req model.TurnRequest) (*model.TurnResponse, error) {
	lang := model.ParseLang(string(req.AnswerLang))
	state := model.StateFromJSON(req.State)

	decision := r.Route(ctx, req.Message, req.History, state, lang)
	logx.Info().Str("intent", string(decision.Intent)).Str("reason", decision.Reason).Msg("routed turn")

	usedTools, outputs, err := r.dispatch(ctx, decision.Intent, req.Message, lang)
	if err != nil {
		return nil, err
	}

	answer, err := r.composeAnswer(ctx, req.Message, outputs, lang)
	if err != nil {
		return nil, err
	}

	resp := &model.TurnResponse{
		FinalAnswer: answer,
		UsedTools:   usedTools,
		State:       updateState(state, decision.Intent, outputs),
	}
	if req.ShowDebug {
		resp.ToolOutputs = sanitizeOutputs(outputs)
		resp.Debug = &model.DebugInfo{
			Intent:           decision.Intent,
			Reason:           decision.Reason,
			UsedTools:        usedTools,
			NeedFollowup:     decision.NeedFollowup,
			FollowupQuestion: decision.FollowupQuestion,
		}
	}
	return resp, nil
}

// toolOutputs carries the typed results of one dispatch. Nil fields mean the
// tool did not run this turn.
type toolOutputs struct {
	sql       *model.SQLQueryResult
	rag       *model.RAGAnswer
	analytics *model.AnalyticsOutput
	general   map[string]any
}

// dispatch runs the tool(s) for an intent. Hybrid runs SQL then RAG,
// sequentially, and both must succeed.
func (r *Router) dispatch(ctx context.Context, intent model.Intent, message string, lang model.Lang) ([]string, *toolOutputs, error) {
	out := &toolOutputs{}
	usedTools := []string{}

	switch intent {
	case model.IntentSQL:
		usedTools = append(usedTools, ToolSQL)
		res, err := r.sql.Query(ctx, message, lang)
		if err != nil {
			return nil, nil, err
		}
		out.sql = res

	case model.IntentRAG:
		usedTools = append(usedTools, ToolRAG)
		res, err := r.rag.Answer(ctx, message)
		if err != nil {
			return nil, nil, err
		}
		out.rag = res

	case model.IntentAnalytics:
		usedTools = append(usedTools, ToolAnalytics)
		res, err := r.analytics.Run(ctx, message)
		if err != nil {
			return nil, nil, err
		}
		out.analytics = res

	case model.IntentHybrid:
		usedTools = append(usedTools, ToolSQL, ToolRAG)
		sqlRes, err := r.sql.Query(ctx, message, lang)
		if err != nil {
			return nil, nil, err
		}
		out.sql = sqlRes
		ragRes, err := r.rag.Answer(ctx, message)
		if err != nil {
			return nil, nil, err
		}
		out.rag = ragRes

	default:
		out.general = map[string]any{"note": "No tool used."}
	}

	return usedTools, out, nil
}

// sanitizeOutputs renders the per-tool payload map exposed under debug.
func sanitizeOutputs(out *toolOutputs) map[string]any {
	m := make(map[string]any)
	if out.sql != nil {
		m["sql"] = sanitize.Value(out.sql)
	}
	if out.rag != nil {
		m["rag"] = sanitize.Value(out.rag)
	}
	if out.analytics != nil {
		m["analytics"] = sanitize.Value(out.analytics)
	}
	if out.general != nil {
		m["general"] = out.general
	}
	return m
}

const (
	composeSystemEN = "You are a senior data assistant.\n" +
		"Write clear English.\n" +
		"Do not dump raw JSON; only cite key results.\n" +
		"Add 1-2 analytical implications.\n" +
		"If analytics output exists, summarize 5 insights clearly."
	composeSystemID = "Kamu adalah asisten data senior.\n" +
		"Jawab dalam Bahasa Indonesia yang natural.\n" +
		"Jangan dump JSON mentah; ambil poin penting saja.\n" +
		"Tambahkan 1-2 implikasi analitis.\n" +
		"Jika ada output analytics, rangkum 5 insight dengan jelas."
)

// composeAnswer turns the sanitized tool payloads into final prose. The
// payload crossing into the prompt is always the sanitized rendering, never
// raw tool structs.
func (r *Router) composeAnswer(ctx context.Context, question string, outputs *toolOutputs, lang model.Lang) (string, error) {
	system := composeSystemID
	if lang == model.LangEN {
		system = composeSystemEN
	}

	user := fmt.Sprintf(
		"Question:\n%s\n\nTool outputs (sanitized JSON preview):\n%s\n\nWrite the final answer.",
		question, sanitize.PayloadText(sanitizeOutputs(outputs)))

	return r.orc.Complete(ctx, system, []model.Turn{{Role: model.RoleUser, Content: user}}, composeMaxTokens)
}

// updateState folds this turn's tool results into the threaded state. Only
// fields owned by tools that actually ran are touched; everything else is
// carried forward unchanged.
func updateState(state model.ConversationState, intent model.Intent, outputs *toolOutputs) model.ConversationState {
	state.LastIntent = intent

	if outputs.sql != nil {
		state.LastSQL = outputs.sql.SQLUsed
		state.LastSQLColumns = outputs.sql.Result.Columns
		rows := outputs.sql.Result.Rows
		if len(rows) > statePreviewRows {
			rows = rows[:statePreviewRows]
		}
		state.LastSQLPreviewRows = rows
	}

	if outputs.rag != nil {
		sources := outputs.rag.Sources
		if len(sources) > stateTopSources {
			sources = sources[:stateTopSources]
		}
		state.LastRAGTopSources = sources
	}

	return state
}
