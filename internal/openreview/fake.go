package openreview

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Fake is an in-memory Client for tests. It records every call so tests
// can assert on call counts (e.g. that assignments come from one bulk
// listing rather than per-submission lookups).
type Fake struct {
	// Notes indexed by invitation id.
	Notes map[string][]*Note
	// ForumNotes indexed by forum id.
	ForumNotes map[string][]*Note
	Groups     []*Group
	// Profiles indexed by canonical key and by every email alias.
	Profiles map[string]*ProfileRecord
	// Edges indexed by invitation id.
	Edges map[string][]GroupedEdges
	// Edits indexed by note id.
	Edits map[string][]*Edit

	// Err fails every call when set, simulating an unreachable API.
	Err error
	// ProfileErrs fails individual profile fetches.
	ProfileErrs map[string]error

	Calls []string
}

var _ Client = (*Fake)(nil)

func (f *Fake) record(format string, args ...interface{}) {
	f.Calls = append(f.Calls, fmt.Sprintf(format, args...))
}

// CallCount returns how many recorded calls start with prefix.
func (f *Fake) CallCount(prefix string) int {
	n := 0
	for _, c := range f.Calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *Fake) GetAllNotes(ctx context.Context, q NoteQuery) ([]*Note, error) {
	f.record("GetAllNotes %s forum=%s author=%s", q.Invitation, q.Forum, q.AuthorID)
	if f.Err != nil {
		return nil, f.Err
	}
	var pool []*Note
	switch {
	case q.Forum != "":
		pool = f.ForumNotes[q.Forum]
	case q.Invitation != "":
		pool = f.Notes[q.Invitation]
	default:
		for _, notes := range f.Notes {
			pool = append(pool, notes...)
		}
	}
	var out []*Note
	for _, n := range pool {
		if q.MinTCDate > 0 && n.TCDate < q.MinTCDate {
			continue
		}
		if !q.Trash && n.DDate != nil {
			continue
		}
		if q.AuthorID != "" && !containsString(n.ContentStrings("authorids"), q.AuthorID) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (f *Fake) GetNotes(ctx context.Context, q NoteQuery) ([]*Note, error) {
	f.record("GetNotes %s", q.Invitation)
	if f.Err != nil {
		return nil, f.Err
	}
	var pool []*Note
	for _, n := range f.Notes[q.Invitation] {
		if !q.Trash && n.DDate != nil {
			continue
		}
		pool = append(pool, n)
	}
	if q.Sort == "tmdate:desc" {
		sorted := make([]*Note, len(pool))
		copy(sorted, pool)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].TMDate > sorted[j].TMDate })
		pool = sorted
	}
	if q.Offset >= len(pool) {
		return nil, nil
	}
	pool = pool[q.Offset:]
	if q.Limit > 0 && len(pool) > q.Limit {
		pool = pool[:q.Limit]
	}
	return pool, nil
}

func (f *Fake) GetGroups(ctx context.Context, prefix string) ([]*Group, error) {
	f.record("GetGroups %s", prefix)
	if f.Err != nil {
		return nil, f.Err
	}
	var out []*Group
	for _, g := range f.Groups {
		if strings.HasPrefix(g.ID, prefix) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *Fake) GetProfile(ctx context.Context, id string) (*ProfileRecord, error) {
	f.record("GetProfile %s", id)
	if f.Err != nil {
		return nil, f.Err
	}
	if err, ok := f.ProfileErrs[id]; ok {
		return nil, err
	}
	if p, ok := f.Profiles[id]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("no profile found for %s", id)
}

func (f *Fake) GetGroupedEdges(ctx context.Context, invitation, groupBy, sel string) ([]GroupedEdges, error) {
	f.record("GetGroupedEdges %s", invitation)
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Edges[invitation], nil
}

func (f *Fake) GetNoteEdits(ctx context.Context, noteID string) ([]*Edit, error) {
	f.record("GetNoteEdits %s", noteID)
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Edits[noteID], nil
}

func (f *Fake) PostNoteEdit(ctx context.Context, edit *Edit) error {
	f.record("PostNoteEdit %s", edit.Invitation)
	return f.Err
}

func (f *Fake) PostGroupEdit(ctx context.Context, edit *GroupEdit) error {
	f.record("PostGroupEdit %s", edit.Invitation)
	return f.Err
}
