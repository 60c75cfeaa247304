package syncer

import (
	"context"
	"errors"
	"sort"

	"github.com/ortler/ortler/internal/cache"
	"github.com/ortler/ortler/internal/model"
	"github.com/ortler/ortler/internal/openreview"
)

// dblpInvitation imports publication records from the DBLP bibliography.
const dblpInvitation = "DBLP.org/-/Record"

// scanDBLP finds tracked profiles that gained DBLP-imported publications
// since the watermark. The scan is skipped on the initial sync (everything
// is fetched fresh anyway) and when the mode refetches publications for
// all profiles regardless.
func (e *Engine) scanDBLP(ctx context.Context, lastUpdate int64, mode Mode, tracked map[string]bool) (map[string]bool, error) {
	withNewPubs := make(map[string]bool)
	if lastUpdate == 0 || mode.recachePublications() {
		return withNewPubs, nil
	}

	notes, err := e.v2.GetAllNotes(ctx, openreview.NoteQuery{
		Invitation: dblpInvitation,
		MinTCDate:  lastUpdate,
	})
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		e.logger.Printf("Warning: DBLP scan failed: %v", err)
		return withNewPubs, nil
	}

	canonical := make(map[string]bool, len(tracked))
	for ref := range tracked {
		canonical[e.resolver.Resolve(ref)] = true
	}
	for _, n := range notes {
		for _, author := range n.ContentStrings("authorids") {
			key := e.resolver.Resolve(author)
			if canonical[key] {
				withNewPubs[key] = true
			}
		}
	}
	return withNewPubs, nil
}

// syncProfiles refreshes the person records for every tracked reference.
// A profile is refetched when it is not cached yet, when the mode forces a
// recache, or when the DBLP scan flagged it. Individual fetch failures are
// tolerated so one broken profile cannot stall the sync.
func (e *Engine) syncProfiles(ctx context.Context, tracked, withNewPubs map[string]bool, opts Options, report *Report) error {
	refs := make([]string, 0, len(tracked))
	for ref := range tracked {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	for _, ref := range refs {
		key := e.resolver.Resolve(ref)
		cached := e.store.Exists(cache.KindProfile, key)
		needPubs := !cached || opts.Mode.recachePublications() || withNewPubs[key]
		if cached && !opts.Mode.recacheProfiles() && !needPubs {
			continue
		}

		record, err := e.v2.GetProfile(ctx, ref)
		if err != nil {
			if fatal(err) {
				return err
			}
			e.logger.Printf("Warning: failed to fetch profile %s: %v", ref, err)
			report.ProfilesFailed++
			continue
		}

		profile := openreview.ToProfile(record)
		if err := profile.Validate(); err != nil {
			e.logger.Printf("Warning: skipping invalid profile for %s: %v", ref, err)
			report.ProfilesFailed++
			continue
		}

		for _, email := range profile.Emails {
			e.resolver.RecordMapping(email, profile.ID)
		}
		e.resolver.RecordMapping(profile.PreferredEmail, profile.ID)
		if ref != profile.ID {
			e.resolver.RecordMapping(ref, profile.ID)
		}
		if key != profile.ID && key != ref {
			e.resolver.RecordMapping(key, profile.ID)
		}

		if needPubs {
			pubs, err := e.fetchPublications(ctx, profile.ID)
			if err != nil {
				if fatal(err) {
					return err
				}
				e.logger.Printf("Warning: failed to fetch publications for %s: %v", profile.ID, err)
			}
			profile.Publications = pubs
		} else {
			var prev model.Profile
			if err := e.store.Get(cache.KindProfile, profile.ID, &prev); err == nil {
				profile.Publications = prev.Publications
			}
		}

		report.ProfilesUpdated++
		if opts.DryRun {
			continue
		}
		if err := e.store.Put(cache.KindProfile, profile.ID, profile); err != nil {
			return err
		}
	}
	return nil
}

// fetchPublications collects a person's publication notes: DBLP-imported
// records plus anything else authored under the key. Both queries hit the
// v2 API; results are merged by note id.
func (e *Engine) fetchPublications(ctx context.Context, key string) ([]model.Publication, error) {
	seen := make(map[string]bool)
	var pubs []model.Publication

	add := func(notes []*openreview.Note) {
		for _, n := range notes {
			if seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			pubs = append(pubs, openreview.ToPublication(n))
		}
	}

	dblp, err := e.v2.GetAllNotes(ctx, openreview.NoteQuery{
		Invitation: dblpInvitation,
		AuthorID:   key,
	})
	if err != nil {
		return nil, err
	}
	add(dblp)

	others, err := e.v2.GetAllNotes(ctx, openreview.NoteQuery{AuthorID: key})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			// A failed second query still leaves the DBLP records usable.
			e.logger.Printf("Warning: general publication query failed for %s: %v", key, err)
			sortPublications(pubs)
			return pubs, nil
		}
		return nil, err
	}
	add(others)

	sortPublications(pubs)
	return pubs, nil
}

func sortPublications(pubs []model.Publication) {
	sort.Slice(pubs, func(i, j int) bool { return pubs[i].ID < pubs[j].ID })
}
