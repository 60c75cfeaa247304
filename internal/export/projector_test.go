package export

import (
	"io"
	"log"
	"strings"
	"testing"

	"github.com/ortler/ortler/internal/cache"
	"github.com/ortler/ortler/internal/identity"
	"github.com/ortler/ortler/internal/model"
)

func newTestProjector(t *testing.T) (*Projector, *cache.Store) {
	t.Helper()
	store, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return reloadProjector(t, store), store
}

// reloadProjector rebuilds the projector so it picks up mapping table
// changes written after the last load.
func reloadProjector(t *testing.T, store *cache.Store) *Projector {
	t.Helper()
	resolver, err := identity.Load(store.Dir())
	if err != nil {
		t.Fatalf("load resolver: %v", err)
	}
	return New(Config{
		Store:    store,
		Resolver: resolver,
		VenueID:  "V",
		Logger:   log.New(io.Discard, "", 0),
	})
}

func TestRoleTriplesUseCanonicalKeys(t *testing.T) {
	_, store := newTestProjector(t)
	if err := store.Put(cache.KindGroup, "Reviewers", model.Group{
		ID:      "V/Reviewers",
		Members: []string{"a@x.com"},
	}); err != nil {
		t.Fatalf("put group: %v", err)
	}
	resolver, err := identity.Load(store.Dir())
	if err != nil {
		t.Fatalf("load resolver: %v", err)
	}
	resolver.RecordMapping("a@x.com", "~A_One1")
	if err := resolver.Save(); err != nil {
		t.Fatalf("save resolver: %v", err)
	}

	out, err := reloadProjector(t, store).Turtle()
	if err != nil {
		t.Fatalf("Turtle: %v", err)
	}
	if !strings.Contains(out, "person:A_One1 a :Person") {
		t.Errorf("missing canonical person subject:\n%s", out)
	}
	if !strings.Contains(out, ":role :PC") {
		t.Errorf("missing role triple:\n%s", out)
	}
	if strings.Contains(out, "a@x.com\" a") || strings.Contains(out, "person:a@x.com") {
		t.Errorf("raw email used as subject:\n%s", out)
	}
}

func TestRecruitmentStatus(t *testing.T) {
	_, store := newTestProjector(t)
	put := func(key string, members ...string) {
		t.Helper()
		if err := store.Put(cache.KindGroup, key, model.Group{ID: "V/" + key, Members: members}); err != nil {
			t.Fatalf("put group %s: %v", key, err)
		}
	}
	put("Reviewers", "~A_One1")
	put("Reviewers_Invited", "~A_One1", "~B_Two1", "~C_Three1")
	put("Reviewers_Declined", "~B_Two1")

	out, err := reloadProjector(t, store).Turtle()
	if err != nil {
		t.Fatalf("Turtle: %v", err)
	}
	checks := []struct{ person, status string }{
		{"person:A_One1", `"accepted"`},
		{"person:B_Two1", `"declined"`},
		{"person:C_Three1", `"pending"`},
	}
	for _, c := range checks {
		block := subjectBlock(out, c.person)
		if !strings.Contains(block, ":status "+c.status) {
			t.Errorf("%s: want status %s in:\n%s", c.person, c.status, block)
		}
	}
}

// subjectBlock extracts one subject's grouped statement from the output.
func subjectBlock(turtle, subject string) string {
	idx := strings.Index(turtle, "\n"+subject+" ")
	if idx < 0 {
		return ""
	}
	rest := turtle[idx+1:]
	if end := strings.Index(rest, " .\n"); end >= 0 {
		return rest[:end]
	}
	return rest
}

func TestLeadingHyphenSubmissionIsBracketed(t *testing.T) {
	_, store := newTestProjector(t)
	if err := store.Put(cache.KindSubmission, "-abc123", model.Submission{
		ID:          "-abc123",
		Invitations: []string{"V/-/Submission"},
		Title:       "Negative Looking",
	}); err != nil {
		t.Fatalf("put submission: %v", err)
	}

	out, err := reloadProjector(t, store).Turtle()
	if err != nil {
		t.Fatalf("Turtle: %v", err)
	}
	if !strings.Contains(out, "<https://openreview.net/forum?id=-abc123>") {
		t.Errorf("leading-hyphen id not bracketed:\n%s", out)
	}
	if strings.Contains(out, "paper:-abc123") {
		t.Errorf("illegal prefixed name emitted:\n%s", out)
	}
}

func TestSubmissionStatusAndTitlePrefix(t *testing.T) {
	_, store := newTestProjector(t)
	if err := store.Put(cache.KindSubmission, "sub1", model.Submission{
		ID:          "sub1",
		Invitations: []string{"V/-/Withdrawn_Submission"},
		Title:       "Gone",
	}); err != nil {
		t.Fatalf("put submission: %v", err)
	}

	out, err := reloadProjector(t, store).Turtle()
	if err != nil {
		t.Fatalf("Turtle: %v", err)
	}
	if !strings.Contains(out, `:status "withdrawn"`) {
		t.Errorf("missing withdrawn status:\n%s", out)
	}
	if !strings.Contains(out, `:title "[W] Gone"`) {
		t.Errorf("missing title prefix:\n%s", out)
	}

	// A recorded reversion restores the active status and plain title.
	if err := store.SaveReversedIDs(cache.ReversedWithdrawalsFile, map[string]bool{"sub1": true}); err != nil {
		t.Fatalf("save reversions: %v", err)
	}
	out, err = reloadProjector(t, store).Turtle()
	if err != nil {
		t.Fatalf("Turtle: %v", err)
	}
	if !strings.Contains(out, `:status "active"`) {
		t.Errorf("reversion not applied:\n%s", out)
	}
	if !strings.Contains(out, `:title "Gone"`) {
		t.Errorf("title prefix kept after reversion:\n%s", out)
	}
}

func TestDeletionDominatesReversion(t *testing.T) {
	_, store := newTestProjector(t)
	ddate := int64(1700000000000)
	if err := store.Put(cache.KindSubmission, "sub1", model.Submission{
		ID:          "sub1",
		Invitations: []string{"V/-/Withdrawn_Submission"},
		DDate:       &ddate,
		Title:       "Gone",
	}); err != nil {
		t.Fatalf("put submission: %v", err)
	}
	if err := store.SaveReversedIDs(cache.ReversedWithdrawalsFile, map[string]bool{"sub1": true}); err != nil {
		t.Fatalf("save reversions: %v", err)
	}

	out, err := reloadProjector(t, store).Turtle()
	if err != nil {
		t.Fatalf("Turtle: %v", err)
	}
	if !strings.Contains(out, `:status "deleted"`) {
		t.Errorf("deletion should dominate reversion:\n%s", out)
	}
	if !strings.Contains(out, `:title "[D] Gone"`) {
		t.Errorf("missing deleted title prefix:\n%s", out)
	}
}

func TestProfileProjection(t *testing.T) {
	_, store := newTestProjector(t)
	if err := store.Put(cache.KindProfile, "~A_One1", model.Profile{
		ID:     "~A_One1",
		State:  model.StateActive,
		Emails: []string{"a.one@x.com"},
		First:  "A",
		Last:   "One",
		History: []model.Affiliation{
			{Position: "Professor", Institution: "X University", Domain: "x.edu"},
		},
		Publications: []model.Publication{
			{ID: "pub1", Title: "Earlier Work", FromDBLP: true},
			{ID: "sub1", Title: "Cached Venue Paper"},
		},
	}); err != nil {
		t.Fatalf("put profile: %v", err)
	}
	if err := store.Put(cache.KindSubmission, "sub1", model.Submission{
		ID:          "sub1",
		Invitations: []string{"V/-/Submission"},
		Title:       "Cached Venue Paper",
		AuthorIDs:   []string{"~A_One1"},
		AuthorNames: []string{"A One"},
		CDate:       1700000000000,
	}); err != nil {
		t.Fatalf("put submission: %v", err)
	}

	out, err := reloadProjector(t, store).Turtle()
	if err != nil {
		t.Fatalf("Turtle: %v", err)
	}
	block := subjectBlock(out, "person:A_One1")
	for _, want := range []string{
		`:email "a.one@x.com"`,
		`:firstname "A"`,
		`:familyname "One"`,
		`:firstname_or_fullname "A"`,
		`:affiliation_institution "X University"`,
		":publication paper:pub1",
		":publication paper:sub1",
		// sub1 is a cached submission, so only pub1 counts as publication.
		`:num_publications "1"^^xsd:integer`,
	} {
		if !strings.Contains(block, want) {
			t.Errorf("missing %q in person block:\n%s", want, block)
		}
	}
	if !strings.Contains(out, `paper:pub1 :title "Earlier Work"`) {
		t.Errorf("publication triples missing:\n%s", out)
	}
	if !strings.Contains(subjectBlock(out, "paper:pub1"), `:from_dblp "true"^^xsd:boolean`) {
		t.Errorf("DBLP distinction missing:\n%s", out)
	}
	if !strings.Contains(subjectBlock(out, "paper:sub1"), `:created_on "2023-11-14"^^xsd:date`) {
		t.Errorf("date projection missing:\n%s", out)
	}
	if !strings.Contains(subjectBlock(out, "paper:sub1"), `:created_on_datetime "2023-11-14T22:13:20Z"^^xsd:dateTime`) {
		t.Errorf("datetime projection missing:\n%s", out)
	}
}

func TestOfficialReviewResolution(t *testing.T) {
	_, store := newTestProjector(t)
	if err := store.Put(cache.KindSubmission, "sub1", model.Submission{
		ID:          "sub1",
		Invitations: []string{"V/-/Submission"},
		Title:       "A Paper",
	}); err != nil {
		t.Fatalf("put submission: %v", err)
	}
	if err := store.Put(cache.KindAssignment, "sub1", model.Assignment{
		"Reviewer_abcd": "~R_One1",
	}); err != nil {
		t.Fatalf("put assignment: %v", err)
	}
	rating := 8
	if err := store.SaveOfficialReviews(map[string][]model.Review{
		"sub1": {{Reviewer: "Reviewer_abcd", Rating: &rating, Strengths: "Thorough."}},
	}); err != nil {
		t.Fatalf("save reviews: %v", err)
	}

	out, err := reloadProjector(t, store).Turtle()
	if err != nil {
		t.Fatalf("Turtle: %v", err)
	}
	if !strings.Contains(out, "paper:sub1") || !strings.Contains(out, ":has_review :review_sub1_R_One1") {
		t.Errorf("review link missing:\n%s", out)
	}
	block := subjectBlock(out, ":review_sub1_R_One1")
	if !strings.Contains(block, ":reviewer person:R_One1") {
		t.Errorf("anonymous label not resolved:\n%s", block)
	}
	if !strings.Contains(block, `:rating "8"^^xsd:integer`) {
		t.Errorf("typed rating missing:\n%s", block)
	}
	if !strings.Contains(out, ":assigned person:R_One1") {
		t.Errorf("assignment triple missing:\n%s", out)
	}
}

func TestChairAssignmentsMergeIntoAssigned(t *testing.T) {
	_, store := newTestProjector(t)
	if err := store.Put(cache.KindSubmission, "sub1", model.Submission{
		ID:          "sub1",
		Invitations: []string{"V/-/Submission"},
		Title:       "A Paper",
	}); err != nil {
		t.Fatalf("put submission: %v", err)
	}
	if err := store.Put(cache.KindAssignment, "sub1", model.Assignment{
		"Reviewer_abcd": "~R_One1",
	}); err != nil {
		t.Fatalf("put assignment: %v", err)
	}
	if err := store.SaveRoleAssignments(cache.SeniorAreaChairAssignmentsFile, map[string][]string{
		"sub1": {"~S_One1"},
	}); err != nil {
		t.Fatalf("save senior area chairs: %v", err)
	}
	if err := store.SaveRoleAssignments(cache.AreaChairAssignmentsFile, map[string][]string{
		"sub1": {"~C_One1"},
	}); err != nil {
		t.Fatalf("save area chairs: %v", err)
	}

	out, err := reloadProjector(t, store).Turtle()
	if err != nil {
		t.Fatalf("Turtle: %v", err)
	}
	block := subjectBlock(out, "paper:sub1")
	for _, want := range []string{
		":assigned person:R_One1",
		"person:S_One1",
		"person:C_One1",
	} {
		if !strings.Contains(block, want) {
			t.Errorf("missing %q in paper block:\n%s", want, block)
		}
	}
}

func TestAIReviewAbsentEmitsNoValue(t *testing.T) {
	_, store := newTestProjector(t)
	if err := store.Put(cache.KindSubmission, "sub1", model.Submission{
		ID:          "sub1",
		Invitations: []string{"V/-/Submission"},
		Title:       "A Paper",
	}); err != nil {
		t.Fatalf("put submission: %v", err)
	}

	out, err := reloadProjector(t, store).Turtle()
	if err != nil {
		t.Fatalf("Turtle: %v", err)
	}
	block := subjectBlock(out, "paper:sub1")
	for _, pred := range []string{
		":ai_summary",
		":ai_methods",
		":ai_results",
		":ai_strengths",
		":ai_weaknesses",
	} {
		if !strings.Contains(block, pred+" :novalue") {
			t.Errorf("missing %s :novalue in paper block:\n%s", pred, block)
		}
	}
}
