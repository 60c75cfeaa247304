// Package model defines the typed records persisted in the venue cache.
//
// Records are fetched from OpenReview as loosely structured JSON. Each type
// here keeps explicit fields for everything the tool consumes and carries an
// extras map for everything it does not, so re-writing a record never drops
// fields added on the remote side.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the derived lifecycle status of a submission.
type Status string

const (
	StatusActive       Status = "active"
	StatusDeleted      Status = "deleted"
	StatusWithdrawn    Status = "withdrawn"
	StatusDeskRejected Status = "desk_rejected"
)

// Invitation markers distinguishing the submission variants on OpenReview.
const (
	InvitationSubmission   = "Submission"
	InvitationWithdrawn    = "Withdrawn_Submission"
	InvitationDeskRejected = "Desk_Rejected_Submission"
)

// DeriveStatus computes a submission's status from the presence of a
// deletion date and its originating invitation type. Deletion is an
// orthogonal, higher-priority signal than the submission type, so it is
// checked first. The function has no memory: a reversed withdrawal shows up
// as a different invitation type or a cleared deletion date on the next
// fetch.
func DeriveStatus(hasDeletionDate bool, invitationType string) Status {
	switch {
	case hasDeletionDate:
		return StatusDeleted
	case strings.Contains(invitationType, InvitationWithdrawn):
		return StatusWithdrawn
	case strings.Contains(invitationType, InvitationDeskRejected):
		return StatusDeskRejected
	default:
		return StatusActive
	}
}

// Submission is a cached paper record.
type Submission struct {
	ID              string   `json:"id"`
	Number          int      `json:"number,omitempty"`
	Invitations     []string `json:"invitations"`
	CDate           int64    `json:"cdate,omitempty"`
	MDate           int64    `json:"mdate,omitempty"`
	TCDate          int64    `json:"tcdate,omitempty"`
	TMDate          int64    `json:"tmdate,omitempty"`
	DDate           *int64   `json:"ddate,omitempty"`
	Title           string   `json:"title,omitempty"`
	Abstract        string   `json:"abstract,omitempty"`
	AuthorIDs       []string `json:"authorids,omitempty"`
	AuthorNames     []string `json:"authors,omitempty"`
	ServeAsReviewer string   `json:"serve_as_reviewer,omitempty"`
	HasPDF          bool     `json:"has_pdf,omitempty"`
	DeskRejectedBy  string   `json:"desk_rejected_by,omitempty"`

	Extras map[string]json.RawMessage `json:"-"`
}

var submissionKeys = knownKeys(
	"id", "number", "invitations", "cdate", "mdate", "tcdate", "tmdate",
	"ddate", "title", "abstract", "authorids", "authors",
	"serve_as_reviewer", "has_pdf", "desk_rejected_by",
)

// Validate checks the fields the rest of the tool relies on.
func (s *Submission) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if len(s.Invitations) == 0 {
		return fmt.Errorf("invitations are required")
	}
	return nil
}

// InvitationType returns the originating invitation variant for status
// derivation. The withdrawn and desk-rejected markers take precedence over
// the plain submission invitation when both are present.
func (s *Submission) InvitationType() string {
	for _, inv := range s.Invitations {
		if strings.Contains(inv, InvitationWithdrawn) {
			return InvitationWithdrawn
		}
	}
	for _, inv := range s.Invitations {
		if strings.Contains(inv, InvitationDeskRejected) {
			return InvitationDeskRejected
		}
	}
	return InvitationSubmission
}

// Status derives the submission's lifecycle status. Never persisted: the
// cache stores only the inputs (ddate, invitations).
func (s *Submission) Status() Status {
	return DeriveStatus(s.DDate != nil, s.InvitationType())
}

type submissionAlias Submission

func (s *Submission) UnmarshalJSON(data []byte) error {
	var a submissionAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	extras, err := splitExtras(data, submissionKeys)
	if err != nil {
		return err
	}
	*s = Submission(a)
	s.Extras = extras
	return nil
}

func (s Submission) MarshalJSON() ([]byte, error) {
	return mergeExtras(submissionAlias(s), s.Extras)
}
