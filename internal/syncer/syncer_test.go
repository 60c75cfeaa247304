package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ortler/ortler/internal/cache"
	"github.com/ortler/ortler/internal/identity"
	"github.com/ortler/ortler/internal/model"
	"github.com/ortler/ortler/internal/openreview"
)

const testVenue = "V"

func testClock(millis int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(millis) }
}

func newTestEngine(t *testing.T, v2, v1 *openreview.Fake, nowMillis int64) (*Engine, *cache.Store) {
	t.Helper()
	store, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	resolver, err := identity.Load(store.Dir())
	if err != nil {
		t.Fatalf("load resolver: %v", err)
	}
	engine := New(Config{
		V2:       v2,
		V1:       v1,
		Store:    store,
		Resolver: resolver,
		VenueID:  testVenue,
		Logger:   log.New(io.Discard, "", 0),
		Now:      testClock(nowMillis),
	})
	return engine, store
}

func submissionNote(id string, number int, tcdate int64, authors ...string) *openreview.Note {
	authorsJSON, _ := json.Marshal(authors)
	return &openreview.Note{
		ID:          id,
		Number:      number,
		Invitations: []string{testVenue + "/-/Submission"},
		CDate:       tcdate,
		TCDate:      tcdate,
		TMDate:      tcdate,
		Content: map[string]json.RawMessage{
			"title":     json.RawMessage(`{"value": "A Paper"}`),
			"abstract":  json.RawMessage(`{"value": "About things."}`),
			"authorids": authorsJSON,
			"authors":   json.RawMessage(`["A One"]`),
		},
	}
}

func profileRecord(key string, emails ...string) *openreview.ProfileRecord {
	emailsJSON, _ := json.Marshal(emails)
	return &openreview.ProfileRecord{
		ID:    key,
		State: "Active",
		Content: map[string]json.RawMessage{
			"emails": emailsJSON,
			"names":  json.RawMessage(`[{"first": "A", "last": "One", "preferred": true}]`),
		},
	}
}

func populatedFake() *openreview.Fake {
	return &openreview.Fake{
		Notes: map[string][]*openreview.Note{
			testVenue + "/-/Submission": {submissionNote("sub1", 1, 1000, "~A_One1")},
		},
		Groups: []*openreview.Group{
			{ID: testVenue + "/Reviewers", Members: []string{"~A_One1"}, TMDate: 900},
		},
		Profiles: map[string]*openreview.ProfileRecord{
			"~A_One1": profileRecord("~A_One1", "a.one@x.com"),
		},
	}
}

func TestSyncInitial(t *testing.T) {
	v2 := populatedFake()
	engine, store := newTestEngine(t, v2, &openreview.Fake{}, 5000)

	report, err := engine.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.NewSubmissions != 1 {
		t.Errorf("NewSubmissions = %d, want 1", report.NewSubmissions)
	}
	if report.ProfilesUpdated != 1 {
		t.Errorf("ProfilesUpdated = %d, want 1", report.ProfilesUpdated)
	}

	sub, err := engine.getSubmission("sub1")
	if err != nil {
		t.Fatalf("submission not cached: %v", err)
	}
	if sub.Title != "A Paper" || sub.Status() != model.StatusActive {
		t.Errorf("cached submission = %+v", sub)
	}

	var profile model.Profile
	if err := store.Get(cache.KindProfile, "~A_One1", &profile); err != nil {
		t.Fatalf("profile not cached: %v", err)
	}
	if profile.Email() != "a.one@x.com" {
		t.Errorf("Email = %q", profile.Email())
	}

	md, err := store.Metadata()
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if md.LastUpdate != 5000 {
		t.Errorf("watermark = %d, want 5000", md.LastUpdate)
	}
}

func TestSyncSecondRunFindsNothing(t *testing.T) {
	v2 := populatedFake()
	engine, store := newTestEngine(t, v2, &openreview.Fake{}, 5000)
	if _, err := engine.Sync(context.Background(), Options{}); err != nil {
		t.Fatalf("first Sync: %v", err)
	}

	profileCalls := v2.CallCount("GetProfile")
	engine.now = testClock(6000)
	report, err := engine.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if report.NewSubmissions != 0 || report.ModifiedSubmissions != 0 {
		t.Errorf("second run found submissions: %+v", report)
	}
	if got := v2.CallCount("GetProfile"); got != profileCalls {
		t.Errorf("second run refetched profiles: %d calls, want %d", got, profileCalls)
	}
	md, _ := store.Metadata()
	if md.LastUpdate != 6000 {
		t.Errorf("watermark = %d, want 6000", md.LastUpdate)
	}
}

func TestSyncDryRunWritesNothing(t *testing.T) {
	engine, store := newTestEngine(t, populatedFake(), &openreview.Fake{}, 5000)

	report, err := engine.Sync(context.Background(), Options{DryRun: true})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.NewSubmissions != 1 {
		t.Errorf("dry run should still report findings, got %+v", report)
	}

	keys, _ := store.ListKeys(cache.KindSubmission)
	if len(keys) != 0 {
		t.Errorf("dry run cached submissions: %v", keys)
	}
	keys, _ = store.ListKeys(cache.KindProfile)
	if len(keys) != 0 {
		t.Errorf("dry run cached profiles: %v", keys)
	}
	md, _ := store.Metadata()
	if md.LastUpdate != 0 {
		t.Errorf("dry run advanced watermark to %d", md.LastUpdate)
	}
}

func TestRecacheProfilesSkipsPublications(t *testing.T) {
	v2 := populatedFake()
	engine, _ := newTestEngine(t, v2, &openreview.Fake{}, 5000)
	if _, err := engine.Sync(context.Background(), Options{}); err != nil {
		t.Fatalf("first Sync: %v", err)
	}

	// Per-author publication fetches carry the author key; the venue-wide
	// DBLP scan does not.
	authorPubs := "GetAllNotes " + dblpInvitation + " forum= author=~"
	pubCalls := v2.CallCount(authorPubs)
	if _, err := engine.Sync(context.Background(), Options{Mode: ModeProfiles}); err != nil {
		t.Fatalf("recache Sync: %v", err)
	}
	if got := v2.CallCount("GetProfile"); got < 2 {
		t.Errorf("profiles mode did not refetch profiles: %d calls", got)
	}
	if got := v2.CallCount(authorPubs); got != pubCalls {
		t.Errorf("profiles mode refetched publications: %d calls, want %d", got, pubCalls)
	}

	if _, err := engine.Sync(context.Background(), Options{Mode: ModeProfilesWithPublication}); err != nil {
		t.Fatalf("recache Sync: %v", err)
	}
	if got := v2.CallCount(authorPubs); got <= pubCalls {
		t.Errorf("profiles-with-publications mode did not refetch publications")
	}
}

func TestProfileFetchFailureIsTolerated(t *testing.T) {
	v2 := populatedFake()
	v2.Groups[0].Members = append(v2.Groups[0].Members, "~B_Two1")
	v2.ProfileErrs = map[string]error{"~B_Two1": errors.New("profile service unavailable")}
	engine, store := newTestEngine(t, v2, &openreview.Fake{}, 5000)

	report, err := engine.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.ProfilesFailed != 1 {
		t.Errorf("ProfilesFailed = %d, want 1", report.ProfilesFailed)
	}
	if report.ProfilesUpdated != 1 {
		t.Errorf("ProfilesUpdated = %d, want 1", report.ProfilesUpdated)
	}
	md, _ := store.Metadata()
	if md.LastUpdate != 5000 {
		t.Errorf("partial failure blocked the watermark: %d", md.LastUpdate)
	}
}

func TestAuthFailureAborts(t *testing.T) {
	v2 := populatedFake()
	v2.Err = openreview.ErrAuth
	engine, store := newTestEngine(t, v2, &openreview.Fake{}, 5000)

	if _, err := engine.Sync(context.Background(), Options{}); !errors.Is(err, openreview.ErrAuth) {
		t.Fatalf("Sync error = %v, want ErrAuth", err)
	}
	md, _ := store.Metadata()
	if md.LastUpdate != 0 {
		t.Errorf("failed sync advanced watermark to %d", md.LastUpdate)
	}
}

func TestAssignmentsFromBulkListing(t *testing.T) {
	v2 := populatedFake()
	v2.Groups = append(v2.Groups,
		&openreview.Group{ID: testVenue + "/Submission1/Reviewer_abcd", Members: []string{"~R_One1"}},
		&openreview.Group{ID: testVenue + "/Submission1/Reviewer_wxyz", Members: []string{"~R_Two1"}},
	)
	engine, store := newTestEngine(t, v2, &openreview.Fake{}, 5000)

	report, err := engine.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.AssignmentsCached != 1 {
		t.Errorf("AssignmentsCached = %d, want 1", report.AssignmentsCached)
	}
	// One bulk listing for all submissions, regardless of how many exist.
	if got := v2.CallCount("GetGroups " + testVenue + "/Submission"); got != 1 {
		t.Errorf("submission group listings = %d, want 1", got)
	}

	var a model.Assignment
	if err := store.Get(cache.KindAssignment, "sub1", &a); err != nil {
		t.Fatalf("assignment not cached: %v", err)
	}
	if a["Reviewer_abcd"] != "~R_One1" || a["Reviewer_wxyz"] != "~R_Two1" {
		t.Errorf("assignment = %v", a)
	}
}

func TestChairAssignmentsFromGroupedEdges(t *testing.T) {
	v2 := populatedFake()
	v2.Edges = map[string][]openreview.GroupedEdges{
		testVenue + "/Senior_Area_Chairs/-/Assignment": {
			{ID: openreview.Edge{Head: "sub1"}, Values: []openreview.Edge{{Tail: "~S_One1"}}},
		},
		testVenue + "/Area_Chairs/-/Assignment": {
			{ID: openreview.Edge{Head: "sub1"}, Values: []openreview.Edge{{Tail: "~C_One1"}, {Tail: "~C_Two1"}}},
		},
	}
	engine, store := newTestEngine(t, v2, &openreview.Fake{}, 5000)

	report, err := engine.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	// One grouped edge query per chair role.
	for _, role := range []string{"Senior_Area_Chairs", "Area_Chairs"} {
		if got := v2.CallCount("GetGroupedEdges " + testVenue + "/" + role + "/-/Assignment"); got != 1 {
			t.Errorf("%s assignment queries = %d, want 1", role, got)
		}
	}
	if report.AssignmentsCached != 2 {
		t.Errorf("AssignmentsCached = %d, want 2", report.AssignmentsCached)
	}

	sacs, err := store.RoleAssignments(cache.SeniorAreaChairAssignmentsFile)
	if err != nil {
		t.Fatalf("senior area chair assignments: %v", err)
	}
	if len(sacs["sub1"]) != 1 || sacs["sub1"][0] != "~S_One1" {
		t.Errorf("senior area chairs = %v", sacs)
	}
	acs, err := store.RoleAssignments(cache.AreaChairAssignmentsFile)
	if err != nil {
		t.Fatalf("area chair assignments: %v", err)
	}
	if len(acs["sub1"]) != 2 {
		t.Errorf("area chairs = %v", acs)
	}
}

func TestChairAssignmentsDryRunWritesNothing(t *testing.T) {
	v2 := populatedFake()
	v2.Edges = map[string][]openreview.GroupedEdges{
		testVenue + "/Area_Chairs/-/Assignment": {
			{ID: openreview.Edge{Head: "sub1"}, Values: []openreview.Edge{{Tail: "~C_One1"}}},
		},
	}
	engine, store := newTestEngine(t, v2, &openreview.Fake{}, 5000)

	report, err := engine.Sync(context.Background(), Options{DryRun: true})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.AssignmentsCached != 1 {
		t.Errorf("AssignmentsCached = %d, want 1", report.AssignmentsCached)
	}
	acs, err := store.RoleAssignments(cache.AreaChairAssignmentsFile)
	if err != nil {
		t.Fatalf("area chair assignments: %v", err)
	}
	if len(acs) != 0 {
		t.Errorf("dry run wrote role assignments: %v", acs)
	}
}

func TestCachedPDFSetsHasPDF(t *testing.T) {
	v2 := populatedFake()
	engine, store := newTestEngine(t, v2, &openreview.Fake{}, 5000)

	path := store.PDFPath("sub1")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("create pdfs dir: %v", err)
	}
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0644); err != nil {
		t.Fatalf("write pdf: %v", err)
	}

	if _, err := engine.Sync(context.Background(), Options{}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	sub, err := engine.getSubmission("sub1")
	if err != nil {
		t.Fatalf("submission not cached: %v", err)
	}
	if !sub.HasPDF {
		t.Error("downloaded PDF not reflected in has_pdf")
	}
}

func TestOfficialReviewsFromReplies(t *testing.T) {
	review := &openreview.Note{
		ID:          "rev1",
		Invitations: []string{testVenue + "/Submission1/-/Official_Review"},
		Signatures:  []string{testVenue + "/Submission1/Reviewer_abcd"},
		Content: map[string]json.RawMessage{
			"rating":     json.RawMessage(`{"value": "8: accept"}`),
			"confidence": json.RawMessage(`{"value": "4"}`),
			"strengths":  json.RawMessage(`{"value": "Solid evaluation."}`),
		},
	}
	replies, _ := json.Marshal([]*openreview.Note{review})
	v2 := populatedFake()
	v2.Notes[testVenue+"/-/Submission"][0].Details = map[string]json.RawMessage{"replies": replies}
	engine, store := newTestEngine(t, v2, &openreview.Fake{}, 5000)

	report, err := engine.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.ReviewsCached != 1 {
		t.Errorf("ReviewsCached = %d, want 1", report.ReviewsCached)
	}

	reviews, err := store.OfficialReviews()
	if err != nil {
		t.Fatalf("OfficialReviews: %v", err)
	}
	got := reviews["sub1"]
	if len(got) != 1 {
		t.Fatalf("reviews for sub1 = %v", got)
	}
	if got[0].Reviewer != "Reviewer_abcd" {
		t.Errorf("Reviewer = %q", got[0].Reviewer)
	}
	if got[0].Rating == nil || *got[0].Rating != 8 {
		t.Errorf("Rating = %v, want 8", got[0].Rating)
	}
	if got[0].Confidence == nil || *got[0].Confidence != 4 {
		t.Errorf("Confidence = %v, want 4", got[0].Confidence)
	}
}

func TestReversionDetection(t *testing.T) {
	withdrawn := &openreview.Note{
		ID:          "sub2",
		Number:      2,
		Invitations: []string{testVenue + "/-/Withdrawn_Submission"},
		TCDate:      1000,
		TMDate:      1000,
		Content: map[string]json.RawMessage{
			"title":     json.RawMessage(`{"value": "Gone"}`),
			"authorids": json.RawMessage(`["~A_One1"]`),
		},
	}
	v2 := populatedFake()
	v2.Notes[testVenue+"/-/Withdrawn_Submission"] = []*openreview.Note{withdrawn}
	v2.ForumNotes = map[string][]*openreview.Note{
		"sub2": {
			{ID: "w1", Invitations: []string{testVenue + "/Submission2/-/Withdrawal"}, TCDate: 1100},
			{ID: "w2", Invitations: []string{testVenue + "/Submission2/-/Withdrawal_Reversion"}, TCDate: 1200},
		},
	}
	engine, store := newTestEngine(t, v2, &openreview.Fake{}, 5000)

	report, err := engine.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.ReversedWithdrawals != 1 {
		t.Errorf("ReversedWithdrawals = %d, want 1", report.ReversedWithdrawals)
	}
	ids, err := store.ReversedIDs(cache.ReversedWithdrawalsFile)
	if err != nil {
		t.Fatalf("ReversedIDs: %v", err)
	}
	if !ids["sub2"] {
		t.Errorf("sub2 not in reversed withdrawals: %v", ids)
	}
}

func TestDeskRejectionAuthor(t *testing.T) {
	rejected := &openreview.Note{
		ID:          "sub3",
		Number:      3,
		Invitations: []string{testVenue + "/-/Desk_Rejected_Submission"},
		TCDate:      1000,
		TMDate:      1000,
		Content: map[string]json.RawMessage{
			"title":     json.RawMessage(`{"value": "Out of scope"}`),
			"authorids": json.RawMessage(`["~A_One1"]`),
		},
	}
	v2 := populatedFake()
	v2.Notes[testVenue+"/-/Desk_Rejected_Submission"] = []*openreview.Note{rejected}
	v2.Edits = map[string][]*openreview.Edit{
		"sub3": {{
			ID:         "e1",
			Invitation: testVenue + "/Submission3/-/Desk_Rejection",
			TAuthor:    "~Chair_One1",
		}},
	}
	engine, _ := newTestEngine(t, v2, &openreview.Fake{}, 5000)

	report, err := engine.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.DeskRejectionAuthors != 1 {
		t.Errorf("DeskRejectionAuthors = %d, want 1", report.DeskRejectionAuthors)
	}
	sub, err := engine.getSubmission("sub3")
	if err != nil {
		t.Fatalf("getSubmission: %v", err)
	}
	if sub.DeskRejectedBy != "~Chair_One1" {
		t.Errorf("DeskRejectedBy = %q", sub.DeskRejectedBy)
	}
}

func TestMergeSubmissionsFillsGaps(t *testing.T) {
	ddate := int64(2000)
	v2 := &model.Submission{
		ID:          "sub1",
		Invitations: []string{"V/-/Submission"},
		Title:       "Current Title",
	}
	v1 := &model.Submission{
		ID:          "sub1",
		Number:      7,
		Invitations: []string{"V/-/Submission"},
		Title:       "Old Title",
		Abstract:    "Old abstract.",
		DDate:       &ddate,
	}

	merged := mergeSubmissions(v2, v1, PreferV2)
	if merged.Title != "Current Title" {
		t.Errorf("Title = %q, preferred version should win", merged.Title)
	}
	if merged.Number != 7 || merged.Abstract != "Old abstract." {
		t.Errorf("fallback fields not filled: %+v", merged)
	}
	if merged.DDate == nil || *merged.DDate != 2000 {
		t.Errorf("DDate = %v, want 2000", merged.DDate)
	}

	merged = mergeSubmissions(v2, v1, PreferV1)
	if merged.Title != "Old Title" {
		t.Errorf("Title = %q, prefer-v1 should take the v1 title", merged.Title)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeIncremental, false},
		{"incremental", ModeIncremental, false},
		{"submissions", ModeSubmissions, false},
		{"profiles", ModeProfiles, false},
		{"profiles-with-publications", ModeProfilesWithPublication, false},
		{"all", ModeAll, false},
		{"everything", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProfileFilterRestrictsFetches(t *testing.T) {
	v2 := populatedFake()
	v2.Groups[0].Members = append(v2.Groups[0].Members, "~B_Two1")
	v2.Profiles["~B_Two1"] = profileRecord("~B_Two1", "b.two@x.com")
	engine, store := newTestEngine(t, v2, &openreview.Fake{}, 5000)

	report, err := engine.Sync(context.Background(), Options{Profiles: []string{"~B_Two1"}})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.Mode != ModeProfilesWithPublication {
		t.Errorf("Mode = %q, profile filter should imply profiles-with-publications", report.Mode)
	}
	if store.Exists(cache.KindProfile, "~A_One1") {
		t.Error("unlisted profile was fetched and cached")
	}
	if !store.Exists(cache.KindProfile, "~B_Two1") {
		t.Error("listed profile was not cached")
	}
}
