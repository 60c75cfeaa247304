// Package stages handles venue-specific custom stages: extra forms whose
// responses are cached alongside the core entities and projected as
// :task_* triples.
//
// Definitions live as YAML files in a stages directory. Two shapes exist:
// per-user stages (responses keyed by the responding profile) and
// per-submission stages (responses keyed by the submission, with the
// responder recorded separately).
package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ortler/ortler/internal/openreview"
	"github.com/ortler/ortler/internal/rdf"
)

// ResponderField is the reserved response key holding the responding
// profile for per-submission stages.
const ResponderField = "_responder"

// Field describes one form field of a stage. When Enum and Short are both
// set and equally long, responses are mapped from the long enum wording to
// the short value before caching.
type Field struct {
	Name  string   `yaml:"name"`
	Enum  []string `yaml:"enum,omitempty"`
	Short []string `yaml:"short,omitempty"`
}

// Definition is one custom stage.
type Definition struct {
	Name      string  `yaml:"name"`
	Committee string  `yaml:"committee,omitempty"`
	ReplyTo   string  `yaml:"reply_to,omitempty"`
	Fields    []Field `yaml:"fields"`
}

// PerSubmission reports whether responses attach to submissions rather
// than users.
func (d *Definition) PerSubmission() bool {
	return d.ReplyTo == "forum"
}

// CacheKey is the record key under the tasks namespace.
func (d *Definition) CacheKey() string {
	return strings.ToLower(d.Name)
}

func (d *Definition) enumMapping() map[string]map[string]string {
	mapping := make(map[string]map[string]string)
	for _, f := range d.Fields {
		if len(f.Enum) == 0 || len(f.Enum) != len(f.Short) {
			continue
		}
		m := make(map[string]string, len(f.Enum))
		for i, long := range f.Enum {
			m[long] = f.Short[i]
		}
		mapping[f.Name] = m
	}
	return mapping
}

// LoadDir reads all stage definitions from a directory. A missing
// directory is an empty list, not an error.
func LoadDir(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stages directory: %w", err)
	}
	var defs []Definition
	seen := make(map[string]bool)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read stage definition %s: %w", name, err)
		}
		var def Definition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to parse stage definition %s: %w", name, err)
		}
		if def.Name == "" || seen[def.Name] {
			continue
		}
		seen[def.Name] = true
		defs = append(defs, def)
	}
	return defs, nil
}

// Response holds one responder's field values.
type Response map[string]string

// FetchResponses pulls all responses for a stage from the remote API.
// Per-user stages key by the responder; per-submission stages key by the
// submission and record the responder under ResponderField.
func FetchResponses(ctx context.Context, client openreview.Client, venueID string, def Definition) (map[string]Response, error) {
	if def.PerSubmission() {
		return fetchPerSubmission(ctx, client, venueID, def)
	}

	invitation := venueID + "/-/" + def.Name
	if strings.EqualFold(def.Committee, "Authors") || def.Committee == "" {
		invitation = venueID + "/Authors/-/" + def.Name
	}
	notes, err := client.GetAllNotes(ctx, openreview.NoteQuery{Invitation: invitation})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s responses: %w", def.Name, err)
	}

	mapping := def.enumMapping()
	responses := make(map[string]Response)
	for _, note := range notes {
		if len(note.Signatures) == 0 || note.Signatures[0] == "" {
			continue
		}
		responses[note.Signatures[0]] = extractFields(note, def.Fields, mapping)
	}
	return responses, nil
}

func fetchPerSubmission(ctx context.Context, client openreview.Client, venueID string, def Definition) (map[string]Response, error) {
	// One query with reply details instead of one call per submission.
	submissions, err := client.GetAllNotes(ctx, openreview.NoteQuery{
		Invitation: venueID + "/-/Submission",
		Details:    "replies",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch submissions with replies: %w", err)
	}

	mapping := def.enumMapping()
	responses := make(map[string]Response)
	for _, sub := range submissions {
		raw, ok := sub.Details["replies"]
		if !ok {
			continue
		}
		var replies []*openreview.Note
		if err := json.Unmarshal(raw, &replies); err != nil {
			continue
		}
		for _, reply := range replies {
			if !invitationMatches(reply.InvitationList(), def.Name) {
				continue
			}
			if len(reply.Signatures) == 0 || reply.Signatures[0] == "" {
				continue
			}
			resp := extractFields(reply, def.Fields, mapping)
			resp[ResponderField] = reply.Signatures[0]
			responses[sub.ID] = resp
		}
	}
	return responses, nil
}

func invitationMatches(invitations []string, stageName string) bool {
	for _, inv := range invitations {
		if strings.Contains(inv, stageName) {
			return true
		}
	}
	return false
}

func extractFields(note *openreview.Note, fields []Field, mapping map[string]map[string]string) Response {
	resp := make(Response, len(fields))
	for _, f := range fields {
		value := note.ContentString(f.Name)
		if m, ok := mapping[f.Name]; ok {
			if short, ok := m[value]; ok {
				value = short
			}
		}
		resp[f.Name] = value
	}
	return resp
}

// AddTriples projects cached stage responses into the graph. The resolve
// function maps raw responder references to canonical profile keys.
func AddTriples(g *rdf.Graph, def Definition, responses map[string]Response, resolve func(string) string) {
	keys := make([]string, 0, len(responses))
	for k := range responses {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if def.PerSubmission() {
		stage := strings.ToLower(def.Name)
		for _, submissionID := range keys {
			paperIRI := rdf.PaperIRI(submissionID)
			resp := responses[submissionID]
			for _, f := range def.Fields {
				g.Add(paperIRI, ":task_"+stage+"_"+f.Name, rdf.LiteralOrNoValue(resp[f.Name]))
			}
			if responder := resp[ResponderField]; responder != "" {
				g.Add(paperIRI, ":task_"+stage+"_responder", rdf.PersonIRI(resolve(responder)))
			}
		}
		return
	}

	for _, userID := range keys {
		personIRI := rdf.PersonIRI(resolve(userID))
		resp := responses[userID]
		for _, f := range def.Fields {
			g.Add(personIRI, ":task_"+f.Name, rdf.LiteralOrNoValue(resp[f.Name]))
		}
	}
}
