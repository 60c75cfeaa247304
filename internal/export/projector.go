// Package export projects the venue cache into an RDF graph and
// serializes it as Turtle for SPARQL import.
//
// The projector is a read-only consumer of the record store. All identity
// canonicalization happens here: group members and author references are
// resolved through the identity resolver before any person triple is
// emitted, so the graph never contains raw email subjects.
package export

import (
	"log"
	"os"
	"sort"
	"strings"

	"github.com/ortler/ortler/internal/cache"
	"github.com/ortler/ortler/internal/identity"
	"github.com/ortler/ortler/internal/model"
	"github.com/ortler/ortler/internal/rdf"
	"github.com/ortler/ortler/internal/stages"
)

// Role suffixes projected as committee classes.
var roleClasses = []struct {
	suffix string
	class  string
}{
	{"Reviewers", ":PC"},
	{"Area_Chairs", ":SPC"},
	{"Senior_Area_Chairs", ":AC"},
}

// Title prefixes marking non-active submissions in listings.
const (
	deletedPrefix      = "[D] "
	withdrawnPrefix    = "[W] "
	deskRejectedPrefix = "[R] "
)

// Config wires a Projector.
type Config struct {
	Store    *cache.Store
	Resolver *identity.Resolver
	VenueID  string
	// Base overrides the default prefix IRI of the output graph.
	Base   string
	Stages []stages.Definition
	Logger *log.Logger
}

// Projector walks the record store and emits triples for every cached
// entity.
type Projector struct {
	store    *cache.Store
	resolver *identity.Resolver
	venueID  string
	base     string
	stages   []stages.Definition
	logger   *log.Logger

	// submissionIDs excludes cached submissions from publication lists;
	// they are projected with full submission triples instead.
	submissionIDs map[string]bool
	// donePersons avoids re-emitting profile triples for people that
	// appear in several roles.
	donePersons map[string]bool
}

// New creates a projector over the cache.
func New(cfg Config) *Projector {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[dump] ", log.LstdFlags)
	}
	return &Projector{
		store:         cfg.Store,
		resolver:      cfg.Resolver,
		venueID:       cfg.VenueID,
		base:          cfg.Base,
		stages:        cfg.Stages,
		logger:        logger,
		submissionIDs: make(map[string]bool),
		donePersons:   make(map[string]bool),
	}
}

// Turtle projects the whole cache and serializes it.
func (p *Projector) Turtle() (string, error) {
	g, err := p.Graph()
	if err != nil {
		return "", err
	}
	return g.Turtle(), nil
}

// ProfileTurtle projects one person and their publications. The full
// submission set still loads first so cached venue papers are excluded
// from the publication list the same way the full export excludes them.
func (p *Projector) ProfileTurtle(ref string) (string, error) {
	submissions, err := p.loadSubmissions()
	if err != nil {
		return "", err
	}
	for _, sub := range submissions {
		p.submissionIDs[sub.ID] = true
	}

	key := p.resolve(ref)
	g := rdf.NewGraph(p.base)
	p.addProfile(g, key, p.loadProfile(key))
	return g.Turtle(), nil
}

// Graph projects the whole cache into a triple graph: committee
// recruitment first, then submissions with their authors, assignments,
// official reviews, and custom stage responses.
func (p *Projector) Graph() (*rdf.Graph, error) {
	g := rdf.NewGraph(p.base)

	submissions, err := p.loadSubmissions()
	if err != nil {
		return nil, err
	}
	for _, sub := range submissions {
		p.submissionIDs[sub.ID] = true
	}

	if err := p.addRecruitment(g); err != nil {
		return nil, err
	}
	if err := p.addSubmissions(g, submissions); err != nil {
		return nil, err
	}
	if err := p.addAssignments(g); err != nil {
		return nil, err
	}
	if err := p.addOfficialReviews(g); err != nil {
		return nil, err
	}
	if err := p.addStages(g); err != nil {
		return nil, err
	}
	return g, nil
}

func (p *Projector) loadSubmissions() ([]*model.Submission, error) {
	ids, err := p.store.ListKeys(cache.KindSubmission)
	if err != nil {
		return nil, err
	}
	subs := make([]*model.Submission, 0, len(ids))
	for _, id := range ids {
		var sub model.Submission
		if err := p.store.Get(cache.KindSubmission, id, &sub); err != nil {
			p.logger.Printf("Warning: skipping unreadable submission %s: %v", id, err)
			continue
		}
		subs = append(subs, &sub)
	}
	return subs, nil
}

// resolve canonicalizes a profile reference, logging when it has to fall
// back to the guessed key form.
func (p *Projector) resolve(ref string) string {
	if !p.resolver.Known(ref) {
		p.logger.Printf("Warning: no mapping for %s, using derived key", ref)
	}
	return p.resolver.Resolve(ref)
}

// addRecruitment projects committee membership. The confirmed, invited and
// declined groups for a role are unified per person: someone is accepted
// if any of their aliases is confirmed, declined if any alias declined,
// pending otherwise.
func (p *Projector) addRecruitment(g *rdf.Graph) error {
	loads, err := p.store.ReducedLoads()
	if err != nil {
		return err
	}

	for _, role := range roleClasses {
		confirmed := p.groupMembers(role.suffix)
		invited := p.groupMembers(role.suffix + "_Invited")
		declined := p.groupMembers(role.suffix + "_Declined")
		if len(confirmed) == 0 && len(invited) == 0 && len(declined) == 0 {
			continue
		}

		aliases := make(map[string]map[string]bool)
		for _, set := range []map[string]bool{confirmed, invited, declined} {
			for ref := range set {
				key := p.resolve(ref)
				if aliases[key] == nil {
					aliases[key] = map[string]bool{key: true}
				}
				aliases[key][ref] = true
			}
		}

		keys := make([]string, 0, len(aliases))
		for key := range aliases {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			profile := p.loadProfile(key)
			ids := aliases[key]
			if profile != nil {
				for _, email := range profile.Emails {
					ids[email] = true
				}
			}

			status := "pending"
			switch {
			case intersects(ids, confirmed):
				status = "accepted"
			case intersects(ids, declined):
				status = "declined"
			}

			person := rdf.PersonIRI(key)
			g.Add(person, "a", ":Person")
			g.Add(person, ":role", role.class)
			if intersects(ids, invited) {
				g.Add(person, ":role_invited", role.class)
			}
			g.Add(person, ":status", rdf.Literal(status))

			if profile != nil {
				for _, email := range profile.Emails {
					if load, ok := loads[email]; ok {
						g.Add(person, ":reduced_load", rdf.Integer(load))
						break
					}
				}
			}
			p.addProfile(g, key, profile)
		}
	}
	return nil
}

func (p *Projector) groupMembers(groupKey string) map[string]bool {
	var group model.Group
	if err := p.store.Get(cache.KindGroup, groupKey, &group); err != nil {
		return nil
	}
	members := make(map[string]bool, len(group.Members))
	for _, m := range group.Members {
		members[m] = true
	}
	return members
}

func intersects(a, b map[string]bool) bool {
	for k := range a {
		if b[k] {
			return true
		}
	}
	return false
}

func (p *Projector) loadProfile(key string) *model.Profile {
	var profile model.Profile
	if err := p.store.Get(cache.KindProfile, key, &profile); err != nil {
		return nil
	}
	return &profile
}

// addProfile emits the person-level triples for one canonical key. A nil
// profile (reference known only from group membership) still yields the
// :id triple so the person is queryable.
func (p *Projector) addProfile(g *rdf.Graph, key string, profile *model.Profile) {
	if p.donePersons[key] {
		return
	}
	p.donePersons[key] = true

	person := rdf.PersonIRI(key)
	g.Add(person, ":id", rdf.Literal(key))
	if profile == nil {
		return
	}

	g.Add(person, ":state", rdf.LiteralOrNoValue(string(profile.State)))
	g.Add(person, ":email", rdf.LiteralOrNoValue(profile.Email()))
	g.Add(person, ":firstname", rdf.LiteralOrNoValue(profile.First))
	g.Add(person, ":familyname", rdf.LiteralOrNoValue(profile.Last))
	firstOrFull := profile.First
	if firstOrFull == "" {
		firstOrFull = profile.FullName
	}
	g.Add(person, ":firstname_or_fullname", rdf.LiteralOrNoValue(firstOrFull))

	if len(profile.History) > 0 {
		current := profile.History[0]
		g.Add(person, ":affiliation_position", rdf.LiteralOrNoValue(current.Position))
		g.Add(person, ":affiliation_institution", rdf.LiteralOrNoValue(current.Institution))
		g.Add(person, ":affiliation_domain", rdf.LiteralOrNoValue(current.Domain))
	}

	count := 0
	for _, pub := range profile.Publications {
		// Venue submissions get full submission triples instead.
		if p.submissionIDs[pub.ID] {
			continue
		}
		count++
		paper := rdf.PaperIRI(pub.ID)
		g.Add(person, ":publication", paper)
		g.Add(paper, ":title", rdf.LiteralOrNoValue(pub.Title))
		g.Add(paper, ":from_dblp", rdf.Bool(pub.FromDBLP))
		if pub.Venue != "" {
			g.Add(paper, ":venue", rdf.Literal(pub.Venue))
		}
	}
	g.Add(person, ":num_publications", rdf.Integer(count))
}

func (p *Projector) addSubmissions(g *rdf.Graph, submissions []*model.Submission) error {
	reversedWithdrawals, err := p.store.ReversedIDs(cache.ReversedWithdrawalsFile)
	if err != nil {
		return err
	}
	reversedDeskRejections, err := p.store.ReversedIDs(cache.ReversedDeskRejectionsFile)
	if err != nil {
		return err
	}

	for _, sub := range submissions {
		paper := rdf.PaperIRI(sub.ID)
		g.Add(paper, "a", ":Submission")
		g.Add(paper, ":id", rdf.Literal(sub.ID))
		if sub.Number > 0 {
			g.Add(paper, ":number", rdf.Integer(sub.Number))
		}

		status, prefix := projectedStatus(sub, reversedWithdrawals, reversedDeskRejections)
		g.Add(paper, ":status", rdf.Literal(string(status)))

		title := rdf.NoValue
		if sub.Title != "" {
			title = rdf.Literal(prefix + sub.Title)
		}
		g.Add(paper, ":title", title)
		g.Add(paper, "rdfs:label", title)
		g.Add(paper, ":abstract", rdf.LiteralOrNoValue(sub.Abstract))

		if sub.DeskRejectedBy != "" {
			g.Add(paper, ":desk_rejected_by", rdf.PersonIRI(p.resolve(sub.DeskRejectedBy)))
		}

		authorKeys := make([]string, 0, len(sub.AuthorIDs))
		for _, ref := range sub.AuthorIDs {
			key := p.resolve(ref)
			authorKeys = append(authorKeys, key)
			person := rdf.PersonIRI(key)
			g.Add(paper, ":author", person)
			g.Add(person, ":publication", paper)
			g.Add(person, "a", ":Person")
			g.Add(person, "a", ":Author")
			p.addProfile(g, key, p.loadProfile(key))
		}
		g.Add(paper, ":author_ids", joinedOrNoValue(authorKeys))
		g.Add(paper, ":author_names", joinedOrNoValue(sub.AuthorNames))
		g.Add(paper, ":num_authors", rdf.Integer(len(authorKeys)))

		if sub.ServeAsReviewer != "" {
			key := p.resolve(sub.ServeAsReviewer)
			person := rdf.PersonIRI(key)
			g.Add(paper, ":author_reviewer", person)
			g.Add(person, "a", ":Author_Reviewer")
			p.addProfile(g, key, p.loadProfile(key))
		}

		g.Add(paper, ":created_on", rdf.Date(sub.CDate))
		g.Add(paper, ":created_on_datetime", rdf.DateTime(sub.CDate))
		g.Add(paper, ":last_modified_on", rdf.Date(sub.MDate))
		g.Add(paper, ":last_modified_on_datetime", rdf.DateTime(sub.MDate))
		g.Add(paper, ":has_pdf", rdf.Bool(sub.HasPDF))

		p.addAIReview(g, paper, sub.ID)
	}
	return nil
}

// projectedStatus applies the reversion side tables on top of the pure
// status derivation: a reversed withdrawal or desk rejection reads as
// active again, while deletion still dominates everything.
func projectedStatus(sub *model.Submission, reversedWithdrawals, reversedDeskRejections map[string]bool) (model.Status, string) {
	status := sub.Status()
	switch status {
	case model.StatusWithdrawn:
		if reversedWithdrawals[sub.ID] {
			return model.StatusActive, ""
		}
		return status, withdrawnPrefix
	case model.StatusDeskRejected:
		if reversedDeskRejections[sub.ID] {
			return model.StatusActive, ""
		}
		return status, deskRejectedPrefix
	case model.StatusDeleted:
		return status, deletedPrefix
	default:
		return status, ""
	}
}

func joinedOrNoValue(values []string) string {
	if len(values) == 0 {
		return rdf.NoValue
	}
	return rdf.Literal(strings.Join(values, ", "))
}

// addAIReview emits the five :ai_* predicates for every submission. A
// missing review file still yields :novalue objects, keeping the query
// surface uniform across submissions.
func (p *Projector) addAIReview(g *rdf.Graph, paper, submissionID string) {
	var review model.AIReview
	if err := p.store.Get(cache.KindAIReview, submissionID, &review); err != nil {
		review = model.AIReview{}
	}
	g.Add(paper, ":ai_summary", rdf.LiteralOrNoValue(review.Summary))
	g.Add(paper, ":ai_methods", rdf.LiteralOrNoValue(review.Methods))
	g.Add(paper, ":ai_results", rdf.LiteralOrNoValue(review.Results))
	g.Add(paper, ":ai_strengths", rdf.LiteralOrNoValue(strings.Join(review.Strengths, "\n")))
	g.Add(paper, ":ai_weaknesses", rdf.LiteralOrNoValue(strings.Join(review.Weaknesses, "\n")))
}

func (p *Projector) addAssignments(g *rdf.Graph) error {
	ids, err := p.store.ListKeys(cache.KindAssignment)
	if err != nil {
		return err
	}
	for _, id := range ids {
		var a model.Assignment
		if err := p.store.Get(cache.KindAssignment, id, &a); err != nil {
			p.logger.Printf("Warning: skipping unreadable assignment %s: %v", id, err)
			continue
		}
		paper := rdf.PaperIRI(id)
		labels := make([]string, 0, len(a))
		for label := range a {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			g.Add(paper, ":assigned", rdf.PersonIRI(a[label]))
		}
	}

	// Chair assignments live in per-role side tables and merge into the
	// same :assigned predicate as the reviewer records.
	for _, file := range []string{cache.SeniorAreaChairAssignmentsFile, cache.AreaChairAssignmentsFile} {
		assignments, err := p.store.RoleAssignments(file)
		if err != nil {
			p.logger.Printf("Warning: skipping unreadable role assignments %s: %v", file, err)
			continue
		}
		submissionIDs := make([]string, 0, len(assignments))
		for id := range assignments {
			submissionIDs = append(submissionIDs, id)
		}
		sort.Strings(submissionIDs)
		for _, id := range submissionIDs {
			paper := rdf.PaperIRI(id)
			assignees := append([]string(nil), assignments[id]...)
			sort.Strings(assignees)
			for _, key := range assignees {
				g.Add(paper, ":assigned", rdf.PersonIRI(key))
			}
		}
	}
	return nil
}

// addOfficialReviews projects the official review collections, resolving
// each review's anonymous label through the submission's assignment
// record.
func (p *Projector) addOfficialReviews(g *rdf.Graph) error {
	reviews, err := p.store.OfficialReviews()
	if err != nil {
		return err
	}
	submissionIDs := make([]string, 0, len(reviews))
	for id := range reviews {
		submissionIDs = append(submissionIDs, id)
	}
	sort.Strings(submissionIDs)

	for _, submissionID := range submissionIDs {
		var assignment model.Assignment
		if err := p.store.Get(cache.KindAssignment, submissionID, &assignment); err != nil {
			assignment = nil
		}
		paper := rdf.PaperIRI(submissionID)

		for _, review := range reviews[submissionID] {
			if review.Reviewer == "" {
				continue
			}
			key, ok := assignment[review.Reviewer]
			if !ok {
				p.logger.Printf("Warning: no assignment for %s on %s", review.Reviewer, submissionID)
				key = review.Reviewer
			}
			reviewIRI := g.ReviewIRI(submissionID, key)
			g.Add(paper, ":has_review", reviewIRI)
			g.Add(reviewIRI, "a", ":Review")
			g.Add(reviewIRI, ":reviewer", rdf.PersonIRI(key))
			if review.Rating != nil {
				g.Add(reviewIRI, ":rating", rdf.Integer(*review.Rating))
			}
			if review.Confidence != nil {
				g.Add(reviewIRI, ":confidence", rdf.Integer(*review.Confidence))
			}
			g.Add(reviewIRI, ":cdate", rdf.Date(review.TCDate))
			g.Add(reviewIRI, ":cdatetime", rdf.DateTime(review.TCDate))
			g.Add(reviewIRI, ":mdate", rdf.Date(review.TMDate))
			g.Add(reviewIRI, ":mdatetime", rdf.DateTime(review.TMDate))
			addIfSet(g, reviewIRI, ":strengths", review.Strengths)
			addIfSet(g, reviewIRI, ":weaknesses", review.Weaknesses)
			addIfSet(g, reviewIRI, ":detailed_comments", review.DetailedComments)
			addIfSet(g, reviewIRI, ":responsible_reviewing", review.ResponsibleReviewing)
			addIfSet(g, reviewIRI, ":ai_generated_content", review.AIGeneratedContent)
			addIfSet(g, reviewIRI, ":review_and_resubmit", review.ReviewAndResubmit)
			addIfSet(g, reviewIRI, ":best_paper_award", review.BestPaperAward)
		}
	}
	return nil
}

func addIfSet(g *rdf.Graph, subject, predicate, value string) {
	if value != "" {
		g.Add(subject, predicate, rdf.Literal(value))
	}
}

func (p *Projector) addStages(g *rdf.Graph) error {
	for _, def := range p.stages {
		responses := make(map[string]stages.Response)
		if err := p.store.Get(cache.KindTask, def.CacheKey(), &responses); err != nil {
			continue
		}
		stages.AddTriples(g, def, responses, p.resolve)
	}
	return nil
}
