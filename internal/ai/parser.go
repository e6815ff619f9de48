package ai

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"
)

// ActionType tags a requested repository action.
type ActionType string

const (
	ActionCreateFile   ActionType = "create_file"
	ActionUpdateFile   ActionType = "update_file"
	ActionCreatePR     ActionType = "create_pr"
	ActionCreateBranch ActionType = "create_branch"
)

// ActionRequest is one action parsed from the model's JSON block. Fields
// are populated per type: file actions use Path/Content/Message/Branch
// (update additionally SHA), create_pr uses Title/Body/Head/Base, and
// create_branch uses Name/Source.
type ActionRequest struct {
	Type    ActionType `json:"type"`
	Path    string     `json:"path,omitempty"`
	Content string     `json:"content,omitempty"`
	Message string     `json:"message,omitempty"`
	Branch  string     `json:"branch,omitempty"`
	SHA     string     `json:"sha,omitempty"`
	Title   string     `json:"title,omitempty"`
	Body    string     `json:"body,omitempty"`
	Head    string     `json:"head,omitempty"`
	Base    string     `json:"base,omitempty"`
	Name    string     `json:"name,omitempty"`
	Source  string     `json:"source,omitempty"`
}

// Reply is a parsed model response: the narrative to post back plus any
// requested actions.
type Reply struct {
	Narrative string
	Actions   []ActionRequest
}

const (
	jsonFenceOpen = "```json"
	fenceClose    = "```"
)

// ParseReply splits a raw model reply into narrative and actions. The
// narrative is everything before the first ```json fence; the fenced block
// is decoded strictly, then with jsonrepair if that fails. When the block
// cannot be recovered at all, the entire original text becomes the
// narrative so nothing the model wrote is lost.
func ParseReply(raw string) Reply {
	fenceAt := strings.Index(raw, jsonFenceOpen)
	if fenceAt < 0 {
		return Reply{Narrative: raw}
	}

	blockStart := fenceAt + len(jsonFenceOpen)
	closeAt := strings.Index(raw[blockStart:], fenceClose)
	if closeAt < 0 {
		log.Warn().Msg("unterminated json action block, keeping full reply as narrative")
		return Reply{Narrative: raw}
	}

	block := strings.TrimSpace(raw[blockStart : blockStart+closeAt])
	actions, ok := decodeActions(block)
	if !ok {
		return Reply{Narrative: raw}
	}

	return Reply{
		Narrative: strings.TrimSpace(raw[:fenceAt]),
		Actions:   actions,
	}
}

func decodeActions(block string) ([]ActionRequest, bool) {
	var envelope struct {
		Actions []ActionRequest `json:"actions"`
	}

	if err := json.Unmarshal([]byte(block), &envelope); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(block)
		if repairErr != nil {
			log.Warn().Err(err).Msg("action block unparseable and unrepairable")
			return nil, false
		}
		if err := json.Unmarshal([]byte(repaired), &envelope); err != nil {
			log.Warn().Err(err).Msg("repaired action block still invalid")
			return nil, false
		}
		log.Info().Msg("action block recovered via json repair")
	}

	actions := make([]ActionRequest, 0, len(envelope.Actions))
	for _, action := range envelope.Actions {
		switch action.Type {
		case ActionCreateFile, ActionUpdateFile, ActionCreatePR, ActionCreateBranch:
			actions = append(actions, action)
		default:
			log.Warn().Str("type", string(action.Type)).Msg("skipping unknown action type")
		}
	}
	return actions, true
}
