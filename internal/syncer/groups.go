package syncer

import (
	"context"
	"strconv"
	"strings"

	"github.com/ortler/ortler/internal/cache"
	"github.com/ortler/ortler/internal/model"
	"github.com/ortler/ortler/internal/openreview"
)

// groupKey turns a group id into a record key. Group ids are paths under
// the venue; the venue prefix is dropped and separators flattened so each
// group maps to one file.
func (e *Engine) groupKey(groupID string) string {
	key := strings.TrimPrefix(groupID, e.venueID+"/")
	return strings.ReplaceAll(key, "/", "_")
}

// syncGroups refetches all committee role groups. Membership sets are
// small, so groups are always pulled in full; the watermark only decides
// what counts as changed in the report.
func (e *Engine) syncGroups(ctx context.Context, lastUpdate int64, dryRun bool, report *Report) error {
	for _, suffix := range roleSuffixes {
		groups, err := e.v2.GetGroups(ctx, e.venueID+"/"+suffix)
		if err != nil {
			if fatal(err) {
				return err
			}
			e.logger.Printf("Warning: failed to fetch groups %s/%s: %v", e.venueID, suffix, err)
			continue
		}
		for _, g := range groups {
			if g.TMDate >= lastUpdate {
				report.GroupsChanged++
				e.logger.Printf("Group changed: %s (%d members)", g.ID, len(g.Members))
			}
			if dryRun {
				continue
			}
			record := model.Group{ID: g.ID, Members: g.Members, TMDate: g.TMDate}
			if err := e.store.Put(cache.KindGroup, e.groupKey(g.ID), record); err != nil {
				return err
			}
		}
	}
	return nil
}

// syncReducedLoads rebuilds the reduced review load table from recruitment
// responses. Each response names the responding user and the load they
// accepted; later responses overwrite earlier ones for the same user.
func (e *Engine) syncReducedLoads(ctx context.Context, dryRun bool, report *Report) error {
	loads := make(map[string]int)
	for _, suffix := range roleSuffixes {
		notes, err := e.v2.GetAllNotes(ctx, openreview.NoteQuery{
			Invitation: e.venueID + "/" + suffix + "/-/Recruitment",
		})
		if err != nil {
			if fatal(err) {
				return err
			}
			e.logger.Printf("Warning: failed to fetch recruitment notes for %s: %v", suffix, err)
			continue
		}
		for _, n := range notes {
			user := n.ContentString("user")
			load := n.ContentString("reduced_load")
			if user == "" || load == "" {
				continue
			}
			value, err := strconv.Atoi(load)
			if err != nil || value <= 0 {
				continue
			}
			loads[user] = value
		}
	}

	report.ReducedLoads = len(loads)
	if dryRun || len(loads) == 0 {
		return nil
	}
	return e.store.SaveReducedLoads(loads)
}
