package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProfileState is a profile's lifecycle state on the remote system. The
// state is not returned by the standard profile fetch and is cached from a
// separate lookup.
type ProfileState string

const (
	StateInstitutionalActive ProfileState = "institutional-active"
	StateActive              ProfileState = "active"
	StateAutoActive          ProfileState = "auto-active"
	StatePendingModeration   ProfileState = "pending-moderation"
	StateInactive            ProfileState = "inactive"
	StateRejected            ProfileState = "rejected"
	StateBlocked             ProfileState = "blocked"
)

// MaskedEmailPrefix marks email addresses the remote API redacted. Masked
// addresses are patched by the preferred-email pass during sync.
const MaskedEmailPrefix = "****"

// Publication is one entry in a profile's publication list.
type Publication struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Venue    string `json:"venue,omitempty"`
	FromDBLP bool   `json:"from_dblp,omitempty"`
}

// Affiliation is one entry in a profile's institutional history.
type Affiliation struct {
	Position    string `json:"position,omitempty"`
	Institution string `json:"institution,omitempty"`
	Domain      string `json:"domain,omitempty"`
}

// Profile is a cached person record, keyed by canonical profile key.
type Profile struct {
	ID             string        `json:"id"`
	State          ProfileState  `json:"state,omitempty"`
	Emails         []string      `json:"emails,omitempty"`
	PreferredEmail string        `json:"preferred_email,omitempty"`
	First          string        `json:"first,omitempty"`
	Middle         string        `json:"middle,omitempty"`
	Last           string        `json:"last,omitempty"`
	FullName       string        `json:"fullname,omitempty"`
	History        []Affiliation `json:"history,omitempty"`
	DBLP           string        `json:"dblp,omitempty"`
	ORCID          string        `json:"orcid,omitempty"`
	Publications   []Publication `json:"publications,omitempty"`
	TMDate         int64         `json:"tmdate,omitempty"`

	Extras map[string]json.RawMessage `json:"-"`
}

var profileKeys = knownKeys(
	"id", "state", "emails", "preferred_email", "first", "middle", "last",
	"fullname", "history", "dblp", "orcid", "publications", "tmdate",
)

// Validate checks the fields the rest of the tool relies on.
func (p *Profile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !strings.HasPrefix(p.ID, "~") {
		return fmt.Errorf("id must be a canonical profile key (got %q)", p.ID)
	}
	return nil
}

// Email returns the best known address: the preferred email when set and
// not masked, otherwise the first unmasked address in the email list.
func (p *Profile) Email() string {
	if p.PreferredEmail != "" && !strings.HasPrefix(p.PreferredEmail, MaskedEmailPrefix) {
		return p.PreferredEmail
	}
	for _, e := range p.Emails {
		if !strings.HasPrefix(e, MaskedEmailPrefix) {
			return e
		}
	}
	return ""
}

// HasMaskedEmail reports whether any stored address still carries the
// masking marker.
func (p *Profile) HasMaskedEmail() bool {
	if strings.HasPrefix(p.PreferredEmail, MaskedEmailPrefix) {
		return true
	}
	for _, e := range p.Emails {
		if strings.HasPrefix(e, MaskedEmailPrefix) {
			return true
		}
	}
	return false
}

type profileAlias Profile

func (p *Profile) UnmarshalJSON(data []byte) error {
	var a profileAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	extras, err := splitExtras(data, profileKeys)
	if err != nil {
		return err
	}
	*p = Profile(a)
	p.Extras = extras
	return nil
}

func (p Profile) MarshalJSON() ([]byte, error) {
	return mergeExtras(profileAlias(p), p.Extras)
}
