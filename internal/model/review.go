package model

// Group is a named membership set. Membership is stored by email or raw
// profile reference exactly as the remote system returns it; consumers
// resolve through the identity resolver at read time.
type Group struct {
	ID      string   `json:"id"`
	Members []string `json:"members"`
	TMDate  int64    `json:"tmdate,omitempty"`
}

// Review is one official review entry for a submission. Reviewer is the
// anonymous label (e.g. "Reviewer_abcd") taken from the review's signature;
// it is resolved to a canonical profile key through the submission's
// assignment record.
type Review struct {
	Reviewer             string `json:"_reviewer"`
	Rating               *int   `json:"rating,omitempty"`
	Confidence           *int   `json:"confidence,omitempty"`
	Strengths            string `json:"strengths,omitempty"`
	Weaknesses           string `json:"weaknesses,omitempty"`
	DetailedComments     string `json:"detailed_comments,omitempty"`
	ResponsibleReviewing string `json:"responsible_reviewing,omitempty"`
	AIGeneratedContent   string `json:"ai_generated_content,omitempty"`
	ReviewAndResubmit    string `json:"review_and_resubmit,omitempty"`
	BestPaperAward       string `json:"best_paper_award,omitempty"`
	CDate                int64  `json:"cdate,omitempty"`
	MDate                int64  `json:"mdate,omitempty"`
	TCDate               int64  `json:"tcdate,omitempty"`
	TMDate               int64  `json:"tmdate,omitempty"`
}

// AIReview is a cached machine-generated review for a submission. Only the
// cached form is modeled here; generation is a separate tool.
type AIReview struct {
	Summary    string   `json:"summary,omitempty"`
	Methods    string   `json:"methods,omitempty"`
	Results    string   `json:"results,omitempty"`
	Strengths  []string `json:"strengths,omitempty"`
	Weaknesses []string `json:"weaknesses,omitempty"`
}

// Assignment maps a submission's anonymous reviewer labels to canonical
// profile keys. Derived from one bulk anonymous-group listing per sync.
type Assignment map[string]string
