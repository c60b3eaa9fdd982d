package model

import "encoding/json"

// Lang selects the language of composed answers.
type Lang string

const (
	LangID Lang = "id"
	LangEN Lang = "en"
)

// ParseLang normalises the provided value, defaulting to Indonesian.
func ParseLang(v string) Lang {
	if Lang(v) == LangEN {
		return LangEN
	}
	return LangID
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message of the caller-supplied conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationState is the small caller-persisted record of the most recent
// tool results, threaded across turns to support follow-up questions. Every
// field is independently optional; fields are only overwritten by the tool
// that owns them, never cleared by unrelated tools.
type ConversationState struct {
	LastIntent         Intent           `json:"last_intent,omitempty"`
	LastSQL            string           `json:"last_sql,omitempty"`
	LastSQLColumns     []string         `json:"last_sql_columns,omitempty"`
	LastSQLPreviewRows [][]any          `json:"last_sql_preview_rows,omitempty"`
	LastRAGTopSources  []map[string]any `json:"last_rag_top_sources,omitempty"`
}

// StateFromJSON decodes caller-supplied state field by field. A field that
// fails to decode is dropped rather than failing the turn, so state stripped
// or mangled by the caller still round-trips without crashing the router.
func StateFromJSON(raw json.RawMessage) ConversationState {
	var st ConversationState
	if len(raw) == 0 {
		return st
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return st
	}

	if v, ok := fields["last_intent"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil && s != "" {
			st.LastIntent = ParseIntent(s)
		}
	}
	if v, ok := fields["last_sql"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil {
			st.LastSQL = s
		}
	}
	if v, ok := fields["last_sql_columns"]; ok {
		var cols []string
		if json.Unmarshal(v, &cols) == nil {
			st.LastSQLColumns = cols
		}
	}
	if v, ok := fields["last_sql_preview_rows"]; ok {
		var rows [][]any
		if json.Unmarshal(v, &rows) == nil {
			st.LastSQLPreviewRows = rows
		}
	}
	if v, ok := fields["last_rag_top_sources"]; ok {
		var srcs []map[string]any
		if json.Unmarshal(v, &srcs) == nil {
			st.LastRAGTopSources = srcs
		}
	}
	return st
}
