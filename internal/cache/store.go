// Package cache implements the on-disk record store for venue data.
//
// The layout is a stable contract other tools read directly:
//
//	metadata.json                  last sync watermark
//	profiles/<key>.json            person records
//	profiles/_id_mapping.json      email -> canonical key
//	submissions/<id>.json          paper records
//	submissions/_reversed_*.json   reversion id lists
//	groups/<name>.json             membership sets
//	recruitment/reduced_loads.json per-email load overrides
//	official_reviews.json          submission id -> review list
//	assignments/<id>.json          anonymous label -> profile key
//	reviews/<id>.json              AI-generated reviews
//	pdfs/<id>.pdf                  submission PDFs
//
// Files starting with "_" inside a kind directory are side tables, not
// records, and are excluded from key listings.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ortler/ortler/internal/model"
)

// Kind names a record namespace. Each kind maps to its own directory.
type Kind string

const (
	KindProfile    Kind = "profiles"
	KindSubmission Kind = "submissions"
	KindGroup      Kind = "groups"
	KindAssignment Kind = "assignments"
	KindAIReview   Kind = "reviews"
	KindTask       Kind = "tasks"
)

// ErrNotFound is returned by Get when no record exists for the key.
var ErrNotFound = errors.New("record not found")

// Store is a keyed JSON document store rooted at a cache directory.
// The sync engine is the sole writer; exports are read-only consumers.
type Store struct {
	dir string
}

// Open creates the cache directory if needed and returns a store over it.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the cache root directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) recordPath(kind Kind, key string) string {
	return filepath.Join(s.dir, string(kind), key+".json")
}

// Get reads the record for key into v. Returns ErrNotFound when absent.
func (s *Store) Get(kind Kind, key string, v interface{}) error {
	data, err := os.ReadFile(s.recordPath(kind, key))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %s/%s: %w", kind, key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s/%s: %w", kind, key, err)
	}
	return nil
}

// Put atomically overwrites the record for key. The record is written to a
// temp file in the same directory and renamed into place, so readers never
// see a partial document.
func (s *Store) Put(kind Kind, key string, v interface{}) error {
	path := s.recordPath(kind, key)
	return s.writeFile(path, v)
}

// Exists reports whether a record is cached for key.
func (s *Store) Exists(kind Kind, key string) bool {
	_, err := os.Stat(s.recordPath(kind, key))
	return err == nil
}

// ListKeys returns the keys of all records of a kind, sorted. Side tables
// (files starting with "_") are skipped. A missing kind directory is an
// empty listing, not an error.
func (s *Store) ListKeys(kind Kind) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, string(kind)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, "_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) writeFile(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	data = append(data, '\n')
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func (s *Store) readFile(path string, v interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return true, nil
}

// Metadata holds process-wide cache state.
type Metadata struct {
	// LastUpdate is the watermark: the timestamp (epoch millis) of the
	// last successful sync. Written only after a sync completes without
	// fatal error, never rolled back.
	LastUpdate int64 `json:"last_update"`
}

// Metadata reads metadata.json. A missing file yields the zero value.
func (s *Store) Metadata() (Metadata, error) {
	var md Metadata
	_, err := s.readFile(filepath.Join(s.dir, "metadata.json"), &md)
	return md, err
}

// SaveMetadata writes metadata.json.
func (s *Store) SaveMetadata(md Metadata) error {
	return s.writeFile(filepath.Join(s.dir, "metadata.json"), md)
}

// OfficialReviews reads the per-submission official review collections.
func (s *Store) OfficialReviews() (map[string][]model.Review, error) {
	reviews := make(map[string][]model.Review)
	_, err := s.readFile(filepath.Join(s.dir, "official_reviews.json"), &reviews)
	return reviews, err
}

// SaveOfficialReviews writes official_reviews.json.
func (s *Store) SaveOfficialReviews(reviews map[string][]model.Review) error {
	return s.writeFile(filepath.Join(s.dir, "official_reviews.json"), reviews)
}

// ReducedLoads reads the per-email review load overrides.
func (s *Store) ReducedLoads() (map[string]int, error) {
	loads := make(map[string]int)
	_, err := s.readFile(filepath.Join(s.dir, "recruitment", "reduced_loads.json"), &loads)
	return loads, err
}

// SaveReducedLoads writes recruitment/reduced_loads.json.
func (s *Store) SaveReducedLoads(loads map[string]int) error {
	return s.writeFile(filepath.Join(s.dir, "recruitment", "reduced_loads.json"), loads)
}

// Reversion side tables under submissions/.
const (
	ReversedWithdrawalsFile    = "_reversed_withdrawals.json"
	ReversedDeskRejectionsFile = "_reversed_desk_rejections.json"
)

// ReversedIDs reads one of the reversion side tables as a set.
func (s *Store) ReversedIDs(file string) (map[string]bool, error) {
	var ids []string
	if _, err := s.readFile(filepath.Join(s.dir, "submissions", file), &ids); err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// SaveReversedIDs writes a reversion side table, sorted for stable output.
func (s *Store) SaveReversedIDs(file string, ids map[string]bool) error {
	list := make([]string, 0, len(ids))
	for id := range ids {
		list = append(list, id)
	}
	sort.Strings(list)
	return s.writeFile(filepath.Join(s.dir, "submissions", file), list)
}

// Role assignment side tables under assignments/. Unlike the
// per-submission anonymous-label records, each role file maps submission
// id to the canonical keys assigned for that role.
const (
	SeniorAreaChairAssignmentsFile = "_senior_area_chairs.json"
	AreaChairAssignmentsFile       = "_area_chairs.json"
)

// RoleAssignments reads one role's assignment side table. A missing file
// is an empty map.
func (s *Store) RoleAssignments(file string) (map[string][]string, error) {
	assignments := make(map[string][]string)
	_, err := s.readFile(filepath.Join(s.dir, "assignments", file), &assignments)
	return assignments, err
}

// SaveRoleAssignments writes one role's assignment side table.
func (s *Store) SaveRoleAssignments(file string, assignments map[string][]string) error {
	return s.writeFile(filepath.Join(s.dir, "assignments", file), assignments)
}

// PDFPath returns where a submission's PDF is cached.
func (s *Store) PDFPath(submissionID string) string {
	return filepath.Join(s.dir, "pdfs", submissionID+".pdf")
}

// HasPDF reports whether a PDF is cached for the submission.
func (s *Store) HasPDF(submissionID string) bool {
	_, err := os.Stat(s.PDFPath(submissionID))
	return err == nil
}
