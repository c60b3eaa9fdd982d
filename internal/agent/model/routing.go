package model

import "strings"

// Intent is the classified category of a user turn. It determines which
// tool(s) the router dispatches to.
type Intent string

const (
	IntentSQL       Intent = "sql"
	IntentRAG       Intent = "rag"
	IntentAnalytics Intent = "analytics"
	IntentHybrid    Intent = "hybrid"
	IntentGeneral   Intent = "general"
)

// ParseIntent normalises classifier output into one of the five known
// intents. Anything else coerces to IntentHybrid, the documented safe
// default, never an error.
func ParseIntent(v string) Intent {
	switch Intent(strings.ToLower(strings.TrimSpace(v))) {
	case IntentSQL:
		return IntentSQL
	case IntentRAG:
		return IntentRAG
	case IntentAnalytics:
		return IntentAnalytics
	case IntentGeneral:
		return IntentGeneral
	default:
		return IntentHybrid
	}
}

// RoutingDecision is the parsed result of the intent-classification call.
type RoutingDecision struct {
	Intent           Intent `json:"intent"`
	Reason           string `json:"reason"`
	NeedFollowup     bool   `json:"need_followup"`
	FollowupQuestion string `json:"followup_question"`
}
