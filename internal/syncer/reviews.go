package syncer

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/ortler/ortler/internal/cache"
	"github.com/ortler/ortler/internal/model"
	"github.com/ortler/ortler/internal/openreview"
)

// preferredEmailInvitation is the edge invitation exposing the unmasked
// preferred address for each profile.
const preferredEmailInvitation = "/-/Preferred_Emails"

// syncAssignmentsAndReviews rebuilds the per-submission assignment records
// and the official review collections. Assignments come from one bulk
// group listing covering every submission's anonymous reviewer groups, not
// from a listing per submission. Reviews come from one bulk query with
// reply details.
func (e *Engine) syncAssignmentsAndReviews(ctx context.Context, dryRun bool, report *Report) error {
	byNumber, err := e.submissionsByNumber()
	if err != nil {
		return err
	}

	groups, err := e.v2.GetGroups(ctx, e.venueID+"/Submission")
	if err != nil {
		if fatal(err) {
			return err
		}
		e.logger.Printf("Warning: failed to list submission groups: %v", err)
		groups = nil
	}

	assignments := make(map[string]model.Assignment)
	for _, g := range groups {
		number, label, ok := parseAnonymousGroup(e.venueID, g.ID)
		if !ok || len(g.Members) == 0 {
			continue
		}
		submissionID, ok := byNumber[number]
		if !ok {
			continue
		}
		if assignments[submissionID] == nil {
			assignments[submissionID] = make(model.Assignment)
		}
		assignments[submissionID][label] = e.resolver.Resolve(g.Members[0])
	}
	report.AssignmentsCached = len(assignments)
	if !dryRun {
		for submissionID, a := range assignments {
			if err := e.store.Put(cache.KindAssignment, submissionID, a); err != nil {
				return err
			}
		}
	}

	if err := e.syncRoleAssignments(ctx, dryRun, report); err != nil {
		return err
	}

	reviews, err := e.fetchOfficialReviews(ctx)
	if err != nil {
		if fatal(err) {
			return err
		}
		e.logger.Printf("Warning: failed to fetch official reviews: %v", err)
		return nil
	}
	for _, list := range reviews {
		report.ReviewsCached += len(list)
	}
	if dryRun || len(reviews) == 0 {
		return nil
	}
	return e.store.SaveOfficialReviews(reviews)
}

// Chair roles assigned through edges rather than anonymous groups. One
// grouped edge query per role covers every submission.
var chairAssignments = []struct {
	role string
	file string
}{
	{"Senior_Area_Chairs", cache.SeniorAreaChairAssignmentsFile},
	{"Area_Chairs", cache.AreaChairAssignmentsFile},
}

// syncRoleAssignments caches senior area chair and area chair assignments
// into per-role side tables keyed by submission id.
func (e *Engine) syncRoleAssignments(ctx context.Context, dryRun bool, report *Report) error {
	for _, ca := range chairAssignments {
		grouped, err := e.v2.GetGroupedEdges(ctx, e.venueID+"/"+ca.role+"/-/Assignment", "head", "tail")
		if err != nil {
			if fatal(err) {
				return err
			}
			e.logger.Printf("Warning: failed to fetch %s assignments: %v", ca.role, err)
			continue
		}
		assignments := make(map[string][]string, len(grouped))
		for _, group := range grouped {
			submissionID := group.ID.Head
			if submissionID == "" {
				continue
			}
			for _, v := range group.Values {
				if v.Tail == "" {
					continue
				}
				assignments[submissionID] = append(assignments[submissionID], e.resolver.Resolve(v.Tail))
			}
		}
		report.AssignmentsCached += len(assignments)
		if dryRun || len(assignments) == 0 {
			continue
		}
		if err := e.store.SaveRoleAssignments(ca.file, assignments); err != nil {
			return err
		}
	}
	return nil
}

// parseAnonymousGroup extracts the submission number and anonymous label
// from a group id like "V/Submission12/Reviewer_abcd".
func parseAnonymousGroup(venueID, groupID string) (number int, label string, ok bool) {
	rest := strings.TrimPrefix(groupID, venueID+"/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || !strings.HasPrefix(parts[0], "Submission") || !strings.HasPrefix(parts[1], "Reviewer_") {
		return 0, "", false
	}
	number, err := strconv.Atoi(strings.TrimPrefix(parts[0], "Submission"))
	if err != nil {
		return 0, "", false
	}
	return number, parts[1], true
}

func (e *Engine) submissionsByNumber() (map[int]string, error) {
	ids, err := e.store.ListKeys(cache.KindSubmission)
	if err != nil {
		return nil, err
	}
	byNumber := make(map[int]string, len(ids))
	for _, id := range ids {
		sub, err := e.getSubmission(id)
		if err != nil {
			continue
		}
		if sub.Number > 0 {
			byNumber[sub.Number] = sub.ID
		}
	}
	return byNumber, nil
}

func (e *Engine) fetchOfficialReviews(ctx context.Context) (map[string][]model.Review, error) {
	submissions, err := e.v2.GetAllNotes(ctx, openreview.NoteQuery{
		Invitation: e.venueID + "/-/" + model.InvitationSubmission,
		Details:    "replies",
	})
	if err != nil {
		return nil, err
	}

	reviews := make(map[string][]model.Review)
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
			if !isOfficialReview(reply.InvitationList()) {
				continue
			}
			reviews[sub.ID] = append(reviews[sub.ID], toReview(reply))
		}
		sort.Slice(reviews[sub.ID], func(i, j int) bool {
			return reviews[sub.ID][i].Reviewer < reviews[sub.ID][j].Reviewer
		})
	}
	return reviews, nil
}

func isOfficialReview(invitations []string) bool {
	for _, inv := range invitations {
		if strings.HasSuffix(inv, "/-/Official_Review") {
			return true
		}
	}
	return false
}

func toReview(n *openreview.Note) model.Review {
	r := model.Review{
		Reviewer:             anonymousLabel(n.Signatures),
		Strengths:            n.ContentString("strengths"),
		Weaknesses:           n.ContentString("weaknesses"),
		DetailedComments:     n.ContentString("detailed_comments"),
		ResponsibleReviewing: n.ContentString("responsible_reviewing"),
		AIGeneratedContent:   n.ContentString("ai_generated_content"),
		ReviewAndResubmit:    n.ContentString("review_and_resubmit"),
		BestPaperAward:       n.ContentString("best_paper_award"),
		CDate:                n.CDate,
		MDate:                n.MDate,
		TCDate:               n.TCDate,
		TMDate:               n.TMDate,
	}
	r.Rating = leadingScore(n.ContentString("rating"))
	r.Confidence = leadingScore(n.ContentString("confidence"))
	return r
}

// anonymousLabel extracts the "Reviewer_xxxx" segment from a review
// signature like "V/Submission12/Reviewer_abcd".
func anonymousLabel(signatures []string) string {
	if len(signatures) == 0 {
		return ""
	}
	parts := strings.Split(signatures[0], "/")
	return parts[len(parts)-1]
}

// leadingScore parses rating-style values of the form "8: accept" (or a
// bare number) to their numeric score.
func leadingScore(s string) *int {
	head, _, _ := strings.Cut(s, ":")
	n, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return nil
	}
	return &n
}

// patchPreferredEmails replaces masked addresses on cached profiles with
// the real preferred address from one bulk edge query. Only profiles that
// still carry a mask are touched.
func (e *Engine) patchPreferredEmails(ctx context.Context, dryRun bool, report *Report) error {
	keys, err := e.store.ListKeys(cache.KindProfile)
	if err != nil {
		return err
	}
	masked := make(map[string]bool)
	for _, key := range keys {
		var p model.Profile
		if err := e.store.Get(cache.KindProfile, key, &p); err != nil {
			continue
		}
		if p.HasMaskedEmail() {
			masked[p.ID] = true
		}
	}
	if len(masked) == 0 {
		return nil
	}

	grouped, err := e.v2.GetGroupedEdges(ctx, e.venueID+preferredEmailInvitation, "head", "tail")
	if err != nil {
		if fatal(err) {
			return err
		}
		e.logger.Printf("Warning: preferred email query failed: %v", err)
		return nil
	}

	for _, group := range grouped {
		key := group.ID.Head
		if !masked[key] || len(group.Values) == 0 {
			continue
		}
		email := group.Values[0].Tail
		if email == "" || strings.HasPrefix(email, model.MaskedEmailPrefix) {
			continue
		}
		var p model.Profile
		if err := e.store.Get(cache.KindProfile, key, &p); err != nil {
			continue
		}
		p.PreferredEmail = email
		for i, addr := range p.Emails {
			if strings.HasPrefix(addr, model.MaskedEmailPrefix) {
				p.Emails[i] = email
				break
			}
		}
		e.resolver.RecordMapping(email, key)
		report.PreferredEmailsPatched++
		if dryRun {
			continue
		}
		if err := e.store.Put(cache.KindProfile, key, p); err != nil {
			return err
		}
	}
	return nil
}
