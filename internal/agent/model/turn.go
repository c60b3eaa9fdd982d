package model

import "encoding/json"

// TurnRequest is one conversational turn entering the router. State is the
// JSON state the caller got back from the previous turn, threaded verbatim.
type TurnRequest struct {
	Message    string          `json:"message"`
	History    []Turn          `json:"history"`
	AnswerLang Lang            `json:"answer_lang"`
	State      json.RawMessage `json:"state"`
	ShowDebug  bool            `json:"show_debug"`
}

// DebugInfo is the read-only diagnostic surface exposed when debug output is
// requested. The router's state machine never consults it.
type DebugInfo struct {
	Intent           Intent `json:"intent"`
	Reason           string `json:"reason"`
	UsedTools        []string `json:"used_tools"`
	NeedFollowup     bool   `json:"need_followup,omitempty"`
	FollowupQuestion string `json:"followup_question,omitempty"`
}

// TurnResponse is what the router returns for one turn. ToolOutputs and Debug
// are present only when the request asked for debug output.
type TurnResponse struct {
	FinalAnswer string            `json:"final_answer"`
	UsedTools   []string          `json:"used_tools"`
	State       ConversationState `json:"state"`
	ToolOutputs map[string]any    `json:"tool_outputs,omitempty"`
	Debug       *DebugInfo        `json:"debug,omitempty"`
}
