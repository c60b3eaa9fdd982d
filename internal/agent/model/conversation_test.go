package model

import (
	"encoding/json"
	"testing"
)

func TestParseLang(t *testing.T) {
	cases := map[string]Lang{
		"en":      LangEN,
		"id":      LangID,
		"":        LangID,
		"fr":      LangID,
		"english": LangID,
	}
	for in, want := range cases {
		if got := ParseLang(in); got != want {
			t.Errorf("ParseLang(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseIntent(t *testing.T) {
	cases := map[string]Intent{
		"sql":       IntentSQL,
		"  SQL  ":   IntentSQL,
		"rag":       IntentRAG,
		"analytics": IntentAnalytics,
		"hybrid":    IntentHybrid,
		"general":   IntentGeneral,
		"":          IntentHybrid,
		"summarize": IntentHybrid,
		"sql+rag":   IntentHybrid,
	}
	for in, want := range cases {
		if got := ParseIntent(in); got != want {
			t.Errorf("ParseIntent(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestStateFromJSON(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		st := StateFromJSON(nil)
		if st.LastIntent != "" || st.LastSQL != "" {
			t.Fatalf("empty input produced state %+v", st)
		}
	})

	t.Run("full round trip", func(t *testing.T) {
		in := ConversationState{
			LastIntent:         IntentSQL,
			LastSQL:            "SELECT 1",
			LastSQLColumns:     []string{"a"},
			LastSQLPreviewRows: [][]any{{"x"}},
			LastRAGTopSources:  []map[string]any{{"doc_id": "d1"}},
		}
		raw, err := json.Marshal(in)
		if err != nil {
			t.Fatal(err)
		}
		st := StateFromJSON(raw)
		if st.LastIntent != IntentSQL || st.LastSQL != "SELECT 1" {
			t.Fatalf("round trip lost fields: %+v", st)
		}
		if len(st.LastSQLColumns) != 1 || len(st.LastSQLPreviewRows) != 1 || len(st.LastRAGTopSources) != 1 {
			t.Fatalf("round trip lost collections: %+v", st)
		}
	})

	t.Run("not an object", func(t *testing.T) {
		st := StateFromJSON(json.RawMessage(`"just a string"`))
		if st.LastIntent != "" || st.LastSQL != "" || st.LastSQLColumns != nil ||
			st.LastSQLPreviewRows != nil || st.LastRAGTopSources != nil {
			t.Fatalf("non-object input produced state %+v", st)
		}
	})

	t.Run("malformed field dropped, rest kept", func(t *testing.T) {
		raw := json.RawMessage(`{
			"last_sql": "SELECT 2",
			"last_sql_columns": "should-be-an-array",
			"last_intent": "rag"
		}`)
		st := StateFromJSON(raw)
		if st.LastSQL != "SELECT 2" {
			t.Fatalf("valid field lost: %+v", st)
		}
		if st.LastSQLColumns != nil {
			t.Fatalf("malformed field kept: %+v", st.LastSQLColumns)
		}
		if st.LastIntent != IntentRAG {
			t.Fatalf("intent lost: %+v", st)
		}
	})

	t.Run("unknown intent coerced", func(t *testing.T) {
		st := StateFromJSON(json.RawMessage(`{"last_intent":"mystery"}`))
		if st.LastIntent != IntentHybrid {
			t.Fatalf("last_intent = %v", st.LastIntent)
		}
	})
}
