package syncer

import (
	"context"
	"strings"

	"github.com/ortler/ortler/internal/cache"
	"github.com/ortler/ortler/internal/model"
	"github.com/ortler/ortler/internal/openreview"
)

// Forum note invitation markers for status actions and their reversions.
const (
	withdrawalMarker             = "/-/Withdrawal"
	withdrawalReversionMarker    = "/-/Withdrawal_Reversion"
	deskRejectionMarker          = "/-/Desk_Rejection"
	deskRejectionReversionMarker = "/-/Desk_Rejection_Reversion"
)

// syncReversions detects withdrawn and desk-rejected submissions whose
// status was later reverted. The remote system keeps the original
// invitation on the submission, so a reversion is only visible in the
// forum: when the newest reversion note postdates the newest action note,
// the status no longer holds. Detected ids go to the side tables consulted
// at projection time.
func (e *Engine) syncReversions(ctx context.Context, dryRun bool, report *Report) error {
	reversedWithdrawals := make(map[string]bool)
	reversedDeskRejections := make(map[string]bool)

	ids, err := e.store.ListKeys(cache.KindSubmission)
	if err != nil {
		return err
	}
	for _, id := range ids {
		sub, err := e.getSubmission(id)
		if err != nil {
			continue
		}
		invType := sub.InvitationType()
		if invType == model.InvitationSubmission {
			continue
		}

		notes, err := e.v2.GetAllNotes(ctx, openreview.NoteQuery{Forum: sub.ID, Trash: true})
		if err != nil {
			if fatal(err) {
				return err
			}
			e.logger.Printf("Warning: failed to fetch forum notes for %s: %v", sub.ID, err)
			continue
		}

		switch invType {
		case model.InvitationWithdrawn:
			if reverted(notes, withdrawalMarker, withdrawalReversionMarker) {
				reversedWithdrawals[sub.ID] = true
				report.ReversedWithdrawals++
				e.logger.Printf("Withdrawal reverted: %s", sub.ID)
			}
		case model.InvitationDeskRejected:
			if reverted(notes, deskRejectionMarker, deskRejectionReversionMarker) {
				reversedDeskRejections[sub.ID] = true
				report.ReversedDeskRejections++
				e.logger.Printf("Desk rejection reverted: %s", sub.ID)
			}
		}
	}

	if dryRun {
		return nil
	}
	if err := e.store.SaveReversedIDs(cache.ReversedWithdrawalsFile, reversedWithdrawals); err != nil {
		return err
	}
	return e.store.SaveReversedIDs(cache.ReversedDeskRejectionsFile, reversedDeskRejections)
}

// reverted compares the newest action note against the newest reversion
// note in a forum. The reversion marker is a suffix of the action marker's
// matches, so action notes exclude reversions explicitly.
func reverted(notes []*openreview.Note, actionMarker, reversionMarker string) bool {
	var actionTime, reversionTime int64
	for _, n := range notes {
		for _, inv := range n.InvitationList() {
			switch {
			case strings.Contains(inv, reversionMarker):
				if n.TCDate > reversionTime {
					reversionTime = n.TCDate
				}
			case strings.Contains(inv, actionMarker):
				if n.TCDate > actionTime {
					actionTime = n.TCDate
				}
			}
		}
	}
	return reversionTime > 0 && reversionTime > actionTime
}

// syncDeskRejectionAuthors attributes desk rejections to the chair who
// performed them. The actor is only recorded on the note edit, not the
// note, so each desk-rejected submission without an attribution costs one
// edit listing.
func (e *Engine) syncDeskRejectionAuthors(ctx context.Context, dryRun bool, report *Report) error {
	ids, err := e.store.ListKeys(cache.KindSubmission)
	if err != nil {
		return err
	}
	for _, id := range ids {
		sub, err := e.getSubmission(id)
		if err != nil {
			continue
		}
		if sub.InvitationType() != model.InvitationDeskRejected || sub.DeskRejectedBy != "" {
			continue
		}

		edits, err := e.v2.GetNoteEdits(ctx, sub.ID)
		if err != nil {
			if fatal(err) {
				return err
			}
			e.logger.Printf("Warning: failed to fetch edits for %s: %v", sub.ID, err)
			continue
		}
		for _, edit := range edits {
			if !strings.Contains(edit.Invitation, deskRejectionMarker) || edit.TAuthor == "" {
				continue
			}
			sub.DeskRejectedBy = e.resolver.Resolve(edit.TAuthor)
			report.DeskRejectionAuthors++
			if !dryRun {
				if err := e.store.Put(cache.KindSubmission, sub.ID, sub); err != nil {
					return err
				}
			}
			break
		}
	}
	return nil
}
