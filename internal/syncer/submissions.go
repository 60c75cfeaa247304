package syncer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ortler/ortler/internal/cache"
	"github.com/ortler/ortler/internal/model"
	"github.com/ortler/ortler/internal/openreview"
)

// submissionVariants are the invitation suffixes fetched per sync, with a
// log label each.
var submissionVariants = []struct {
	suffix string
	label  string
}{
	{model.InvitationSubmission, "New submission"},
	{model.InvitationWithdrawn, "Withdrawn submission"},
	{model.InvitationDeskRejected, "Desk-rejected submission"},
}

const modifiedPageSize = 1000

func (e *Engine) getSubmission(id string) (*model.Submission, error) {
	var sub model.Submission
	if err := e.store.Get(cache.KindSubmission, id, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// syncSubmissions fetches new and modified submissions of all three
// variants from both API versions, reconciles them, and persists the
// merged records. Returns the author references discovered on new
// submissions.
func (e *Engine) syncSubmissions(ctx context.Context, lastUpdate int64, dryRun bool, report *Report) ([]string, error) {
	var newAuthors []string

	for _, variant := range submissionVariants {
		invitation := fmt.Sprintf("%s/-/%s", e.venueID, variant.suffix)

		// New submissions: created since the watermark. Soft-deleted
		// records are included so deletions are observed.
		fresh, err := e.fetchBothVersions(ctx, openreview.NoteQuery{
			Invitation: invitation,
			MinTCDate:  lastUpdate,
			Trash:      true,
		})
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			e.logger.Printf("Warning: failed to fetch new %s: %v", variant.suffix, err)
			fresh = nil
		}
		for _, sub := range fresh {
			report.NewSubmissions++
			newAuthors = append(newAuthors, sub.AuthorIDs...)
			if !dryRun {
				if err := e.putSubmission(sub); err != nil {
					return nil, err
				}
			}
			e.logger.Printf("%s: %s", variant.label, sub.ID)
		}

		// Modified submissions: page in tmdate-descending order and stop
		// at the watermark. New submissions were already handled above.
		if err := e.fetchModified(ctx, invitation, variant.suffix, lastUpdate, dryRun, report); err != nil {
			if fatal(err) {
				return nil, err
			}
			e.logger.Printf("Warning: failed to check modified %s: %v", variant.suffix, err)
		}
	}

	return newAuthors, nil
}

func (e *Engine) fetchModified(ctx context.Context, invitation, suffix string, lastUpdate int64, dryRun bool, report *Report) error {
	offset := 0
	for {
		page, err := e.v2.GetNotes(ctx, openreview.NoteQuery{
			Invitation: invitation,
			Sort:       "tmdate:desc",
			Offset:     offset,
			Limit:      modifiedPageSize,
			Trash:      true,
		})
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		for _, note := range page {
			if note.TMDate < lastUpdate {
				return nil
			}
			if note.TCDate >= lastUpdate {
				continue // already handled as new
			}
			report.ModifiedSubmissions++
			if !dryRun {
				if err := e.putSubmission(e.reconcile(ctx, note)); err != nil {
					return err
				}
			}
			e.logger.Printf("Modified %s: %s", suffix, note.ID)
		}
		offset += modifiedPageSize
	}
}

// fetchBothVersions runs the same query against v2 and v1 and reconciles
// the results by identifier.
func (e *Engine) fetchBothVersions(ctx context.Context, q openreview.NoteQuery) ([]*model.Submission, error) {
	v2Notes, err := e.v2.GetAllNotes(ctx, q)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*model.Submission, len(v2Notes))
	var order []string
	for _, n := range v2Notes {
		sub := openreview.ToSubmission(n)
		merged[sub.ID] = sub
		order = append(order, sub.ID)
	}

	// v1 retains older metadata; it only fills attributes the preferred
	// version left absent (or wins outright under prefer-v1).
	v1Notes, err := e.v1.GetAllNotes(ctx, q)
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		e.logger.Printf("Warning: v1 fetch failed for %s: %v", q.Invitation, err)
		v1Notes = nil
	}
	for _, n := range v1Notes {
		sub := openreview.ToSubmission(n)
		if existing, ok := merged[sub.ID]; ok {
			merged[sub.ID] = mergeSubmissions(existing, sub, e.policy)
		} else {
			merged[sub.ID] = sub
			order = append(order, sub.ID)
		}
	}

	out := make([]*model.Submission, 0, len(order))
	for _, id := range order {
		out = append(out, merged[id])
	}
	return out, nil
}

// reconcile merges a single v2 note with whatever v1 has for the same
// forum, used on the modified-submission path where notes arrive one page
// at a time.
func (e *Engine) reconcile(ctx context.Context, note *openreview.Note) *model.Submission {
	sub := openreview.ToSubmission(note)
	v1Notes, err := e.v1.GetAllNotes(ctx, openreview.NoteQuery{Forum: note.ID, Trash: true})
	if err != nil {
		return sub
	}
	for _, n := range v1Notes {
		if n.ID == note.ID {
			return mergeSubmissions(sub, openreview.ToSubmission(n), e.policy)
		}
	}
	return sub
}

// mergeSubmissions reconciles the two versions' records for one
// submission. The preferred record's fields win; the other fills in only
// attributes the preferred one left absent.
func mergeSubmissions(v2, v1 *model.Submission, policy MergePolicy) *model.Submission {
	preferred, fallback := v2, v1
	if policy == PreferV1 {
		preferred, fallback = v1, v2
	}

	out := *preferred
	if out.Number == 0 {
		out.Number = fallback.Number
	}
	if out.Title == "" {
		out.Title = fallback.Title
	}
	if out.Abstract == "" {
		out.Abstract = fallback.Abstract
	}
	if len(out.AuthorIDs) == 0 {
		out.AuthorIDs = fallback.AuthorIDs
	}
	if len(out.AuthorNames) == 0 {
		out.AuthorNames = fallback.AuthorNames
	}
	if out.ServeAsReviewer == "" {
		out.ServeAsReviewer = fallback.ServeAsReviewer
	}
	if out.DDate == nil {
		out.DDate = fallback.DDate
	}
	if out.CDate == 0 {
		out.CDate = fallback.CDate
	}
	if out.MDate == 0 {
		out.MDate = fallback.MDate
	}
	if !out.HasPDF {
		out.HasPDF = fallback.HasPDF
	}
	for k, raw := range fallback.Extras {
		if _, ok := out.Extras[k]; !ok {
			if out.Extras == nil {
				out.Extras = map[string]json.RawMessage{}
			}
			out.Extras[k] = raw
		}
	}
	return &out
}

// putSubmission persists a merged record, preserving fields owned by other
// sync passes (desk_rejected_by) from the previously cached version.
func (e *Engine) putSubmission(sub *model.Submission) error {
	if err := sub.Validate(); err != nil {
		e.logger.Printf("Warning: skipping invalid submission %s: %v", sub.ID, err)
		return nil
	}
	if prev, err := e.getSubmission(sub.ID); err == nil {
		if sub.DeskRejectedBy == "" {
			sub.DeskRejectedBy = prev.DeskRejectedBy
		}
	}
	// A PDF already downloaded next to the cache counts even when the
	// remote record omits the field (v1 notes often do).
	if !sub.HasPDF && e.store.HasPDF(sub.ID) {
		sub.HasPDF = true
	}
	return e.store.Put(cache.KindSubmission, sub.ID, sub)
}
