package stages

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ortler/ortler/internal/openreview"
	"github.com/ortler/ortler/internal/rdf"
)

func writeStage(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write stage: %v", err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeStage(t, dir, "cert.yaml", `
name: DBLP_Certification
committee: Authors
fields:
  - name: certification
    enum: ["Yes, I certify", "No, I do not"]
    short: ["yes", "no"]
`)
	writeStage(t, dir, "checks.yml", `
name: Initial_Checks
reply_to: forum
fields:
  - name: scope
`)
	writeStage(t, dir, "notes.txt", "ignored")

	defs, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("got %d definitions, want 2", len(defs))
	}
	byName := map[string]Definition{}
	for _, d := range defs {
		byName[d.Name] = d
	}
	checks := byName["Initial_Checks"]
	if checks.PerSubmission() != true {
		t.Error("reply_to forum not detected as per-submission")
	}
	cert := byName["DBLP_Certification"]
	if cert.CacheKey() != "dblp_certification" {
		t.Errorf("CacheKey = %q", cert.CacheKey())
	}
}

func TestLoadDirMissing(t *testing.T) {
	defs, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if defs != nil {
		t.Errorf("defs = %v, want nil", defs)
	}
}

func TestFetchResponsesPerUser(t *testing.T) {
	def := Definition{
		Name:      "DBLP_Certification",
		Committee: "Authors",
		Fields: []Field{{
			Name:  "certification",
			Enum:  []string{"Yes, I certify", "No, I do not"},
			Short: []string{"yes", "no"},
		}},
	}
	fake := &openreview.Fake{
		Notes: map[string][]*openreview.Note{
			"V/Authors/-/DBLP_Certification": {{
				ID:         "n1",
				Signatures: []string{"~A_One1"},
				Content: map[string]json.RawMessage{
					"certification": json.RawMessage(`{"value": "Yes, I certify"}`),
				},
			}},
		},
	}

	responses, err := FetchResponses(context.Background(), fake, "V", def)
	if err != nil {
		t.Fatalf("FetchResponses: %v", err)
	}
	if responses["~A_One1"]["certification"] != "yes" {
		t.Errorf("enum not mapped to short value: %v", responses)
	}
}

func TestFetchResponsesPerSubmission(t *testing.T) {
	def := Definition{
		Name:    "Initial_Checks",
		ReplyTo: "forum",
		Fields:  []Field{{Name: "scope"}},
	}
	replies, _ := json.Marshal([]*openreview.Note{{
		ID:          "r1",
		Invitations: []string{"V/Submission1/-/Initial_Checks"},
		Signatures:  []string{"~B_Two1"},
		Content: map[string]json.RawMessage{
			"scope": json.RawMessage(`{"value": "in scope"}`),
		},
	}})
	fake := &openreview.Fake{
		Notes: map[string][]*openreview.Note{
			"V/-/Submission": {{
				ID:      "sub1",
				Details: map[string]json.RawMessage{"replies": replies},
			}},
		},
	}

	responses, err := FetchResponses(context.Background(), fake, "V", def)
	if err != nil {
		t.Fatalf("FetchResponses: %v", err)
	}
	resp := responses["sub1"]
	if resp["scope"] != "in scope" || resp[ResponderField] != "~B_Two1" {
		t.Errorf("response = %v", resp)
	}
}

func TestAddTriples(t *testing.T) {
	identity := func(ref string) string { return ref }

	g := rdf.NewGraph("")
	AddTriples(g, Definition{
		Name:   "DBLP_Certification",
		Fields: []Field{{Name: "certification"}},
	}, map[string]Response{
		"~A_One1": {"certification": "yes"},
	}, identity)
	out := g.Turtle()
	if !strings.Contains(out, `person:A_One1 :task_certification "yes"`) {
		t.Errorf("per-user triple missing:\n%s", out)
	}

	g = rdf.NewGraph("")
	AddTriples(g, Definition{
		Name:    "Initial_Checks",
		ReplyTo: "forum",
		Fields:  []Field{{Name: "scope"}},
	}, map[string]Response{
		"sub1": {"scope": "in scope", ResponderField: "~B_Two1"},
	}, identity)
	out = g.Turtle()
	if !strings.Contains(out, `:task_initial_checks_scope "in scope"`) {
		t.Errorf("per-submission triple missing:\n%s", out)
	}
	if !strings.Contains(out, ":task_initial_checks_responder person:B_Two1") {
		t.Errorf("responder triple missing:\n%s", out)
	}
}
