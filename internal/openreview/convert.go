package openreview

import (
	"encoding/json"
	"strings"

	"github.com/ortler/ortler/internal/model"
)

// profileContentKeys are the content fields converted to explicit model
// fields. Everything else is preserved opaquely in Extras.
var profileContentKeys = map[string]bool{
	"names": true, "emails": true, "preferredEmail": true, "history": true,
	"dblp": true, "orcid": true,
}

// ToSubmission converts a note fetched from either API version into the
// cached submission record.
func ToSubmission(n *Note) *model.Submission {
	return &model.Submission{
		ID:              n.ID,
		Number:          n.Number,
		Invitations:     n.InvitationList(),
		CDate:           n.CDate,
		MDate:           n.MDate,
		TCDate:          n.TCDate,
		TMDate:          n.TMDate,
		DDate:           n.DDate,
		Title:           n.ContentString("title"),
		Abstract:        n.ContentString("abstract"),
		AuthorIDs:       n.ContentStrings("authorids"),
		AuthorNames:     n.ContentStrings("authors"),
		ServeAsReviewer: n.ContentString("serve_as_reviewer"),
		HasPDF:          n.HasContent("pdf"),
	}
}

// ToProfile converts a raw profile record into the cached person record.
// Publication data comes from separate note queries and is attached by the
// caller.
func ToProfile(p *ProfileRecord) *model.Profile {
	out := &model.Profile{
		ID:     p.ID,
		State:  normalizeState(p.State),
		TMDate: p.TMDate,
	}

	if raw, ok := p.Content["emails"]; ok {
		json.Unmarshal(raw, &out.Emails)
	}
	if raw, ok := p.Content["preferredEmail"]; ok {
		json.Unmarshal(raw, &out.PreferredEmail)
	}
	if raw, ok := p.Content["names"]; ok {
		var names []struct {
			First     string `json:"first"`
			Middle    string `json:"middle"`
			Last      string `json:"last"`
			FullName  string `json:"fullname"`
			Preferred bool   `json:"preferred"`
		}
		if err := json.Unmarshal(raw, &names); err == nil && len(names) > 0 {
			chosen := names[0]
			for _, n := range names {
				if n.Preferred {
					chosen = n
					break
				}
			}
			out.First = chosen.First
			out.Middle = chosen.Middle
			out.Last = chosen.Last
			out.FullName = chosen.FullName
		}
	}
	if raw, ok := p.Content["history"]; ok {
		var history []struct {
			Position    string `json:"position"`
			Institution struct {
				Name   string `json:"name"`
				Domain string `json:"domain"`
			} `json:"institution"`
		}
		if err := json.Unmarshal(raw, &history); err == nil {
			for _, h := range history {
				out.History = append(out.History, model.Affiliation{
					Position:    h.Position,
					Institution: h.Institution.Name,
					Domain:      h.Institution.Domain,
				})
			}
		}
	}
	if raw, ok := p.Content["dblp"]; ok {
		json.Unmarshal(raw, &out.DBLP)
	}
	if raw, ok := p.Content["orcid"]; ok {
		json.Unmarshal(raw, &out.ORCID)
	}

	for k, raw := range p.Content {
		if profileContentKeys[k] {
			continue
		}
		if out.Extras == nil {
			out.Extras = make(map[string]json.RawMessage)
		}
		out.Extras[k] = raw
	}
	return out
}

// ToPublication converts a publication note. DBLP-sourced publications are
// distinguished by their import invitation.
func ToPublication(n *Note) model.Publication {
	fromDBLP := false
	for _, inv := range n.InvitationList() {
		if strings.Contains(inv, "DBLP") {
			fromDBLP = true
			break
		}
	}
	return model.Publication{
		ID:       n.ID,
		Title:    n.ContentString("title"),
		Venue:    n.ContentString("venue"),
		FromDBLP: fromDBLP,
	}
}

// stateNames maps the remote system's state labels to the cached
// enumeration.
var stateNames = map[string]model.ProfileState{
	"Active Institutional": model.StateInstitutionalActive,
	"Active Automatic":     model.StateAutoActive,
	"Active":               model.StateActive,
	"Needs Moderation":     model.StatePendingModeration,
	"Inactive":             model.StateInactive,
	"Rejected":             model.StateRejected,
	"Blocked":              model.StateBlocked,
}

func normalizeState(s string) model.ProfileState {
	if mapped, ok := stateNames[s]; ok {
		return mapped
	}
	return model.ProfileState(strings.ToLower(s))
}
