// Package openreview is the boundary to the remote OpenReview API.
//
// Two API versions are in play: v2 is authoritative for current venue data,
// v1 retains older metadata. Both are exposed through the same Client
// interface; the sync engine constructs one client handle per version and
// passes them down explicitly.
package openreview

import (
	"context"
	"encoding/json"
)

// Note is one remote note record (submission, review, recruitment
// response, publication). Content is kept raw; the typed accessors below
// absorb the difference between v1 ("title": "x") and v2
// ("title": {"value": "x"}) content shapes.
type Note struct {
	ID          string                     `json:"id"`
	Forum       string                     `json:"forum,omitempty"`
	Number      int                        `json:"number,omitempty"`
	Invitation  string                     `json:"invitation,omitempty"`
	Invitations []string                   `json:"invitations,omitempty"`
	Signatures  []string                   `json:"signatures,omitempty"`
	CDate       int64                      `json:"cdate,omitempty"`
	MDate       int64                      `json:"mdate,omitempty"`
	TCDate      int64                      `json:"tcdate,omitempty"`
	TMDate      int64                      `json:"tmdate,omitempty"`
	DDate       *int64                     `json:"ddate,omitempty"`
	Content     map[string]json.RawMessage `json:"content,omitempty"`
	Details     map[string]json.RawMessage `json:"details,omitempty"`
}

// InvitationList returns the note's invitations in either API version's
// representation.
func (n *Note) InvitationList() []string {
	if len(n.Invitations) > 0 {
		return n.Invitations
	}
	if n.Invitation != "" {
		return []string{n.Invitation}
	}
	return nil
}

// ContentString returns a string content field, unwrapping the v2
// {"value": ...} envelope when present.
func (n *Note) ContentString(field string) string {
	raw, ok := n.Content[field]
	if !ok {
		return ""
	}
	return decodeString(raw)
}

// ContentStrings returns a string-list content field.
func (n *Note) ContentStrings(field string) []string {
	raw, ok := n.Content[field]
	if !ok {
		return nil
	}
	return decodeStrings(raw)
}

// HasContent reports whether the field is present at all.
func (n *Note) HasContent(field string) bool {
	_, ok := n.Content[field]
	return ok
}

func decodeString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var wrapped struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		return wrapped.Value
	}
	return ""
}

func decodeStrings(raw json.RawMessage) []string {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var wrapped struct {
		Value []string `json:"value"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		return wrapped.Value
	}
	return nil
}

// Group is a remote membership group.
type Group struct {
	ID      string   `json:"id"`
	Members []string `json:"members"`
	TMDate  int64    `json:"tmdate,omitempty"`
}

// ProfileRecord is a raw person record from the profiles endpoint.
type ProfileRecord struct {
	ID      string                     `json:"id"`
	State   string                     `json:"state,omitempty"`
	TMDate  int64                      `json:"tmdate,omitempty"`
	Content map[string]json.RawMessage `json:"content,omitempty"`
}

// Edge is one element of a grouped edge query result.
type Edge struct {
	Head   string `json:"head,omitempty"`
	Tail   string `json:"tail,omitempty"`
	Label  string `json:"label,omitempty"`
	Weight int    `json:"weight,omitempty"`
}

// GroupedEdges is one group of the grouped edge query, keyed by the
// group-by field.
type GroupedEdges struct {
	ID     Edge   `json:"id"`
	Values []Edge `json:"values"`
}

// Edit is a note edit record, used to attribute actions (e.g. which chair
// desk-rejected a submission) and to post changes.
type Edit struct {
	ID         string `json:"id,omitempty"`
	Invitation string `json:"invitation,omitempty"`
	TAuthor    string `json:"tauthor,omitempty"`
	Note       *Note  `json:"note,omitempty"`
}

// GroupEdit posts a change to a group.
type GroupEdit struct {
	Invitation string `json:"invitation,omitempty"`
	Group      *Group `json:"group,omitempty"`
}

// NoteQuery selects notes. Zero fields are omitted from the request.
type NoteQuery struct {
	Invitation string
	Forum      string
	AuthorID   string // matches content.authorids
	MinTCDate  int64
	Sort       string
	Offset     int
	Limit      int
	Trash      bool // include soft-deleted notes
	Details    string
}

// Client is the remote API surface the sync engine consumes. It is called,
// never reimplemented; tests substitute the Fake.
type Client interface {
	// GetAllNotes pages through every note matching the query.
	GetAllNotes(ctx context.Context, q NoteQuery) ([]*Note, error)
	// GetNotes fetches a single page.
	GetNotes(ctx context.Context, q NoteQuery) ([]*Note, error)
	// GetGroups lists all groups whose id starts with prefix.
	GetGroups(ctx context.Context, prefix string) ([]*Group, error)
	// GetProfile fetches one profile by canonical key or email.
	GetProfile(ctx context.Context, id string) (*ProfileRecord, error)
	// GetGroupedEdges runs a bulk edge query grouped by the given field.
	GetGroupedEdges(ctx context.Context, invitation, groupBy, sel string) ([]GroupedEdges, error)
	// GetNoteEdits lists the edits of a note.
	GetNoteEdits(ctx context.Context, noteID string) ([]*Edit, error)
	// PostNoteEdit submits a note edit.
	PostNoteEdit(ctx context.Context, edit *Edit) error
	// PostGroupEdit submits a group edit.
	PostGroupEdit(ctx context.Context, edit *GroupEdit) error
}
