// Package identity resolves profile references to canonical profile keys.
//
// The remote system is the source of truth for renames and merges; this
// package only maintains the persistent mapping table built during sync
// (profiles/_id_mapping.json) and applies it at read time. Mappings are
// last-writer-wins, so a stale mapping is corrected by the next sync that
// observes the rename, or by forcing a profile recache.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MappingFile is the side table under the profiles directory.
const MappingFile = "_id_mapping.json"

// resolveLimit bounds how many chained mappings Resolve follows, guarding
// against accidental cycles in the table.
const resolveLimit = 10

// Resolver maps emails and superseded profile keys to canonical keys.
type Resolver struct {
	path    string
	mapping map[string]string
	dirty   bool
}

// Load reads the mapping table from the cache directory. A missing table
// yields an empty resolver.
func Load(cacheDir string) (*Resolver, error) {
	r := &Resolver{
		path:    filepath.Join(cacheDir, "profiles", MappingFile),
		mapping: make(map[string]string),
	}
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read id mapping: %w", err)
	}
	if err := json.Unmarshal(data, &r.mapping); err != nil {
		return nil, fmt.Errorf("failed to parse id mapping: %w", err)
	}
	return r, nil
}

// Resolve maps a profile reference (email or profile key) to a canonical
// key. Resolving an already-canonical key returns it unchanged unless a
// newer mapping supersedes it. An email with no known mapping yields the
// conventional profile-style guess rather than failing, since the caller
// may be bootstrapping a prior-unseen identity.
func (r *Resolver) Resolve(ref string) string {
	cur := ref
	for i := 0; i < resolveLimit; i++ {
		next, ok := r.mapping[cur]
		if !ok || next == cur {
			break
		}
		cur = next
	}
	if strings.HasPrefix(cur, "~") {
		return cur
	}
	return GuessKey(cur)
}

// Known reports whether the reference has an explicit mapping or is itself
// a canonical key. Used by consumers that want to log when they fall back
// to a guessed key.
func (r *Resolver) Known(ref string) bool {
	if strings.HasPrefix(ref, "~") {
		return true
	}
	_, ok := r.mapping[ref]
	return ok
}

// RecordMapping stores email -> canonical key, overwriting any prior
// mapping for that email. Last writer wins.
func (r *Resolver) RecordMapping(email, canonicalKey string) {
	if email == "" || canonicalKey == "" || email == canonicalKey {
		return
	}
	if r.mapping[email] == canonicalKey {
		return
	}
	r.mapping[email] = canonicalKey
	r.dirty = true
}

// IsStale reports whether a canonical key has been superseded by a newer
// mapping (a rename or merge recorded after the key was cached).
func (r *Resolver) IsStale(canonicalKey string) bool {
	next, ok := r.mapping[canonicalKey]
	return ok && next != canonicalKey
}

// Len returns the number of recorded mappings.
func (r *Resolver) Len() int {
	return len(r.mapping)
}

// Save persists the mapping table if it changed since Load.
func (r *Resolver) Save() error {
	if !r.dirty {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("failed to create profiles directory: %w", err)
	}
	data, err := json.MarshalIndent(r.mapping, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal id mapping: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(r.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write id mapping: %w", err)
	}
	r.dirty = false
	return nil
}

// GuessKey converts an email to the conventional profile-key form:
// "jane.q.doe@x.com" -> "~Jane_Q_Doe1". This is only a bootstrap guess;
// the real mapping replaces it once the profile is fetched.
func GuessKey(email string) string {
	local := email
	if at := strings.IndexByte(email, '@'); at >= 0 {
		local = email[:at]
	}
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(parts) == 0 {
		return "~" + local + "1"
	}
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return "~" + strings.Join(parts, "_") + "1"
}
