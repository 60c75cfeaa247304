// Package syncer implements the incremental, reconciling synchronization
// of the venue cache against the two remote API versions.
//
// One Sync call walks every entity kind in a fixed order: submissions
// first (they discover new authors), then profiles, groups, reduced
// loads, assignments, reviews, preferred emails, reversions, stage
// responses. All reads for a kind complete before its writes; the
// watermark advances only after every kind's writes succeed.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ortler/ortler/internal/cache"
	"github.com/ortler/ortler/internal/identity"
	"github.com/ortler/ortler/internal/openreview"
	"github.com/ortler/ortler/internal/stages"
)

// Mode selects which entity kinds are force-refreshed versus incrementally
// updated. Modes are not hierarchical, except that profiles-with-publications
// implies profiles, and all implies submissions + profiles-with-publications.
type Mode string

const (
	ModeIncremental             Mode = "incremental"
	ModeSubmissions             Mode = "submissions"
	ModeProfiles                Mode = "profiles"
	ModeProfilesWithPublication Mode = "profiles-with-publications"
	ModeAll                     Mode = "all"
)

// ParseMode validates a recache mode string. Empty means incremental.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeIncremental:
		return ModeIncremental, nil
	case ModeSubmissions, ModeProfiles, ModeProfilesWithPublication, ModeAll:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown recache mode %q", s)
	}
}

func (m Mode) recacheSubmissions() bool {
	return m == ModeSubmissions || m == ModeAll
}

func (m Mode) recacheProfiles() bool {
	return m == ModeProfiles || m == ModeProfilesWithPublication || m == ModeAll
}

func (m Mode) recachePublications() bool {
	return m == ModeProfilesWithPublication || m == ModeAll
}

// MergePolicy decides which API version wins when both return the same
// submission. The v2-preferred rule is inferred from API documentation,
// not formally specified, so it stays configurable.
type MergePolicy string

const (
	PreferV2 MergePolicy = "prefer-v2"
	PreferV1 MergePolicy = "prefer-v1"
)

// Options control one Sync invocation.
type Options struct {
	Mode   Mode
	DryRun bool
	// Profiles restricts the profile pass to the given references and
	// implies profiles-with-publications when no mode is set.
	Profiles []string
	// Since overrides the stored watermark (epoch millis) when > 0.
	Since int64
}

// Report summarizes one sync run.
type Report struct {
	Mode                   Mode      `json:"mode"`
	DryRun                 bool      `json:"dry_run"`
	StartedAt              time.Time `json:"started_at"`
	FinishedAt             time.Time `json:"finished_at"`
	NewSubmissions         int       `json:"new_submissions"`
	ModifiedSubmissions    int       `json:"modified_submissions"`
	ProfilesWithNewPubs    int       `json:"profiles_with_new_pubs"`
	ProfilesUpdated        int       `json:"profiles_updated"`
	ProfilesFailed         int       `json:"profiles_failed"`
	GroupsChanged          int       `json:"groups_changed"`
	ReducedLoads           int       `json:"reduced_loads"`
	AssignmentsCached      int       `json:"assignments_cached"`
	ReviewsCached          int       `json:"reviews_cached"`
	PreferredEmailsPatched int       `json:"preferred_emails_patched"`
	DeskRejectionAuthors   int       `json:"desk_rejection_authors"`
	ReversedWithdrawals    int       `json:"reversed_withdrawals"`
	ReversedDeskRejections int       `json:"reversed_desk_rejections"`
	StageResponses         int       `json:"stage_responses"`
	Watermark              int64     `json:"watermark"`
}

// Config wires an Engine. Both client handles are required; v2 is
// authoritative, v1 fills in older metadata.
type Config struct {
	V2       openreview.Client
	V1       openreview.Client
	Store    *cache.Store
	Resolver *identity.Resolver
	VenueID  string
	Policy   MergePolicy
	Stages   []stages.Definition
	Logger   *log.Logger
	Now      func() time.Time
}

// Engine orchestrates fetch-and-merge for each entity kind. It is the
// sole writer of the record store and the identity resolver.
type Engine struct {
	v2       openreview.Client
	v1       openreview.Client
	store    *cache.Store
	resolver *identity.Resolver
	venueID  string
	policy   MergePolicy
	stages   []stages.Definition
	logger   *log.Logger
	now      func() time.Time
}

// Committee role group suffixes tracked by the sync.
var roleSuffixes = []string{"Reviewers", "Area_Chairs", "Senior_Area_Chairs"}

// New creates a sync engine. If cfg.Logger is nil, a default logger
// writing to stderr is used.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	policy := cfg.Policy
	if policy == "" {
		policy = PreferV2
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		v2:       cfg.V2,
		v1:       cfg.V1,
		store:    cfg.Store,
		resolver: cfg.Resolver,
		venueID:  cfg.VenueID,
		policy:   policy,
		stages:   cfg.Stages,
		logger:   logger,
		now:      now,
	}
}

// fatal reports whether an error must abort the whole sync. Authentication
// failures and cancellation leave the cache untouched beyond what already
// landed; everything else degrades to a per-entity skip.
func fatal(err error) bool {
	return errors.Is(err, openreview.ErrAuth) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Sync runs one full synchronization pass and returns its report. In
// dry-run mode all fetching and diffing happens but nothing is written:
// no records, no id mappings, no watermark.
func (e *Engine) Sync(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{
		Mode:      opts.Mode,
		DryRun:    opts.DryRun,
		StartedAt: e.now(),
	}
	if opts.Mode == "" {
		opts.Mode = ModeIncremental
		report.Mode = ModeIncremental
	}
	if len(opts.Profiles) > 0 && opts.Mode == ModeIncremental {
		opts.Mode = ModeProfilesWithPublication
		report.Mode = opts.Mode
	}

	md, err := e.store.Metadata()
	if err != nil {
		return nil, fmt.Errorf("failed to load cache metadata: %w", err)
	}
	lastUpdate := md.LastUpdate
	if opts.Since > 0 {
		lastUpdate = opts.Since
		e.logger.Printf("Watermark overridden to %s", time.UnixMilli(lastUpdate).Format(time.RFC3339))
	}
	// A profile-restricted run must not re-pull the whole submission set.
	if opts.Mode.recacheSubmissions() && len(opts.Profiles) == 0 {
		lastUpdate = 0
	}
	if lastUpdate > 0 {
		e.logger.Printf("Last update: %s", time.UnixMilli(lastUpdate).Format("2006-01-02 15:04:05"))
	} else {
		e.logger.Printf("No previous update found, this will be the initial sync")
	}
	newWatermark := e.now().UnixMilli()

	e.logger.Printf("Collecting tracked profiles...")
	tracked, err := e.trackedProfiles(ctx)
	if err != nil {
		return nil, err
	}
	e.logger.Printf("Tracking %d profiles", len(tracked))

	e.logger.Printf("Checking for new/modified submissions...")
	newAuthors, err := e.syncSubmissions(ctx, lastUpdate, opts.DryRun, report)
	if err != nil {
		return nil, err
	}
	for _, id := range newAuthors {
		tracked[id] = true
	}
	if len(opts.Profiles) > 0 {
		tracked = make(map[string]bool, len(opts.Profiles))
		for _, p := range opts.Profiles {
			tracked[p] = true
		}
		e.logger.Printf("Filtered to %d specified profile(s)", len(tracked))
	}

	e.logger.Printf("Checking for new DBLP publications...")
	withNewPubs, err := e.scanDBLP(ctx, lastUpdate, opts.Mode, tracked)
	if err != nil {
		return nil, err
	}
	report.ProfilesWithNewPubs = len(withNewPubs)

	e.logger.Printf("Checking for profile changes...")
	if err := e.syncProfiles(ctx, tracked, withNewPubs, opts, report); err != nil {
		return nil, err
	}

	e.logger.Printf("Updating group membership cache...")
	if err := e.syncGroups(ctx, lastUpdate, opts.DryRun, report); err != nil {
		return nil, err
	}

	e.logger.Printf("Updating reduced loads cache...")
	if err := e.syncReducedLoads(ctx, opts.DryRun, report); err != nil {
		return nil, err
	}

	e.logger.Printf("Updating assignments and official reviews...")
	if err := e.syncAssignmentsAndReviews(ctx, opts.DryRun, report); err != nil {
		return nil, err
	}

	e.logger.Printf("Patching masked preferred emails...")
	if err := e.patchPreferredEmails(ctx, opts.DryRun, report); err != nil {
		return nil, err
	}

	e.logger.Printf("Fetching desk rejection authors...")
	if err := e.syncDeskRejectionAuthors(ctx, opts.DryRun, report); err != nil {
		return nil, err
	}

	e.logger.Printf("Checking for status reversions...")
	if err := e.syncReversions(ctx, opts.DryRun, report); err != nil {
		return nil, err
	}

	if len(e.stages) > 0 {
		e.logger.Printf("Updating custom stage responses...")
		if err := e.syncStages(ctx, opts.DryRun, report); err != nil {
			return nil, err
		}
	}

	if !opts.DryRun {
		if err := e.resolver.Save(); err != nil {
			return nil, err
		}
		md.LastUpdate = newWatermark
		if err := e.store.SaveMetadata(md); err != nil {
			return nil, fmt.Errorf("failed to save watermark: %w", err)
		}
		report.Watermark = newWatermark
	} else {
		report.Watermark = lastUpdate
	}
	report.FinishedAt = e.now()

	e.logSummary(report)
	return report, nil
}

func (e *Engine) logSummary(r *Report) {
	e.logger.Printf("=== Update Summary ===")
	e.logger.Printf("New submissions: %d", r.NewSubmissions)
	e.logger.Printf("Modified submissions: %d", r.ModifiedSubmissions)
	e.logger.Printf("Profiles with new publications: %d", r.ProfilesWithNewPubs)
	e.logger.Printf("Profiles updated: %d (failed: %d)", r.ProfilesUpdated, r.ProfilesFailed)
	e.logger.Printf("Groups with membership changes: %d", r.GroupsChanged)
	e.logger.Printf("Reduced load entries: %d", r.ReducedLoads)
	e.logger.Printf("Assignments cached: %d", r.AssignmentsCached)
	e.logger.Printf("Official reviews cached: %d", r.ReviewsCached)
	e.logger.Printf("Preferred emails patched: %d", r.PreferredEmailsPatched)
	e.logger.Printf("Desk rejection authors fetched: %d", r.DeskRejectionAuthors)
	e.logger.Printf("Reversed withdrawals: %d", r.ReversedWithdrawals)
	e.logger.Printf("Reversed desk rejections: %d", r.ReversedDeskRejections)
	if len(e.stages) > 0 {
		e.logger.Printf("Custom stage responses: %d", r.StageResponses)
	}
	if r.DryRun {
		e.logger.Printf("(Dry run - no changes made)")
	}
}

// trackedProfiles collects every profile reference the venue cares about:
// committee group members plus cached submission authors.
func (e *Engine) trackedProfiles(ctx context.Context) (map[string]bool, error) {
	tracked := make(map[string]bool)

	for _, suffix := range roleSuffixes {
		groups, err := e.v2.GetGroups(ctx, e.venueID+"/"+suffix)
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			e.logger.Printf("Warning: failed to fetch group %s/%s: %v", e.venueID, suffix, err)
			continue
		}
		for _, g := range groups {
			for _, m := range g.Members {
				tracked[m] = true
			}
		}
	}

	ids, err := e.store.ListKeys(cache.KindSubmission)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		sub, err := e.getSubmission(id)
		if err != nil {
			e.logger.Printf("Warning: skipping unreadable submission %s: %v", id, err)
			continue
		}
		for _, a := range sub.AuthorIDs {
			tracked[a] = true
		}
		if sub.ServeAsReviewer != "" {
			tracked[sub.ServeAsReviewer] = true
		}
	}
	return tracked, nil
}
