package job

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Note is the structured result of summarization. Every field is optional.
type Note struct {
	Transcript  string       `json:"transcript"`
	Summary     string       `json:"summary"`
	ActionItems []ActionItem `json:"actionItems"`
	Decisions   []string     `json:"decisions"`
	Attendees   []string     `json:"attendees"`
}

// UnmarshalJSON accepts any well-formed JSON. Fields of the wrong type decode as
// empty, a bare string stands in for a one-element list, and a document that is not
// an object yields an empty note.
func (n *Note) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		if !json.Valid(b) {
			return err
		}
		fields = nil
	}

	*n = Note{
		Transcript:  looseString(fields["transcript"]),
		Summary:     looseString(fields["summary"]),
		ActionItems: looseActionItems(fields["actionItems"]),
		Decisions:   looseStrings(fields["decisions"]),
		Attendees:   looseStrings(fields["attendees"]),
	}
	return nil
}

func looseString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func looseList(raw json.RawMessage) []json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) == nil {
		return items
	}
	if looseString(raw) != "" {
		return []json.RawMessage{raw}
	}
	return nil
}

func looseStrings(raw json.RawMessage) []string {
	var out []string
	for _, item := range looseList(raw) {
		if s := looseString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func looseActionItems(raw json.RawMessage) []ActionItem {
	var out []ActionItem
	for _, item := range looseList(raw) {
		var a ActionItem
		if json.Unmarshal(item, &a) == nil {
			out = append(out, a)
		}
	}
	return out
}

// ActionItem accepts either a bare string or {task, owner, due}.
type ActionItem struct {
	Task  string `json:"task"`
	Owner string `json:"owner,omitempty"`
	Due   string `json:"due,omitempty"`
}

func (a *ActionItem) UnmarshalJSON(b []byte) error {
	var text string
	if err := json.Unmarshal(b, &text); err == nil {
		*a = ActionItem{Task: text}
		return nil
	}
	var obj struct {
		Task  string `json:"task"`
		Owner string `json:"owner"`
		Due   string `json:"due"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("action item must be a string or an object: %w", err)
	}
	*a = ActionItem{Task: obj.Task, Owner: obj.Owner, Due: obj.Due}
	return nil
}

// Line renders the item as "<task> • Owner: <owner> • Due: <due>", omitting absent parts.
func (a ActionItem) Line() string {
	var b strings.Builder
	b.WriteString(a.Task)
	if a.Owner != "" {
		b.WriteString(" • Owner: ")
		b.WriteString(a.Owner)
	}
	if a.Due != "" {
		b.WriteString(" • Due: ")
		b.WriteString(a.Due)
	}
	return strings.TrimSpace(b.String())
}
