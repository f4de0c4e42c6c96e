// Package contract renders author agreements from chapter and timeline
// fields and uploads the rendered artifact to the file store.
package contract

import (
	"fmt"
	"strings"
	"time"

	"wellspring/api/internal/payment"
	"wellspring/api/internal/timeline"
	"wellspring/api/internal/util"
)

// Fields is the complete substitution set for one agreement rendering.
type Fields struct {
	OrgName     string
	OrgPrefix   string
	AuthorName  string
	AuthorEmail string

	StateName   string
	StateAbbrev string
	ChapterName string
	ChapterType string

	EffectiveDate time.Time
	Timeline      timeline.ContractTimeline

	GrantAmount   float64
	FirstPayment  string
	SecondPayment string
	FinalPayment  string

	ScopeOfWork string
}

// scopeOfWork maps chapter types to their agreed statement of work. Unknown
// types fall back to a generic sentence built from the chapter name.
var scopeOfWork = map[string]string{
	"criminal_record_relief": "Author shall research and draft a chapter analyzing the jurisdiction's criminal record relief mechanisms, including expungement, sealing, and certificate-of-relief procedures, with statutory citations current as of the effective date.",
	"employment":             "Author shall research and draft a chapter analyzing employment-related collateral consequences in the jurisdiction, including occupational licensing restrictions and negligent hiring exposure.",
	"housing":                "Author shall research and draft a chapter analyzing housing-related barriers in the jurisdiction, including public housing admission policies and private rental screening practice.",
	"public_benefits":        "Author shall research and draft a chapter analyzing eligibility restrictions on public benefits in the jurisdiction, including federal option elections and state-specific limitations.",
	"voting_rights":          "Author shall research and draft a chapter analyzing the restoration of voting rights in the jurisdiction, including registration procedures following disqualification.",
}

// ScopeFor returns the statement of work for a chapter type.
func ScopeFor(chapterType, chapterName string) string {
	if scope, ok := scopeOfWork[chapterType]; ok {
		return scope
	}
	return fmt.Sprintf("Author shall research and draft the %s chapter for the jurisdiction's report, with statutory citations current as of the effective date.", chapterName)
}

type FieldInput struct {
	OrgName     string
	OrgPrefix   string
	AuthorName  string
	AuthorEmail string
	StateName   string
	StateAbbrev string
	ChapterName string
	ChapterType string
	SigningDate time.Time
	Deadline    time.Time
	GrantAmount float64
}

// BuildFields assembles the substitution set: it computes the milestone
// schedule from the jurisdiction deadline and splits the grant into the
// standard three payments.
func BuildFields(in FieldInput) Fields {
	tl := timeline.Compute(in.Deadline, in.SigningDate)
	first, second, final := payment.Split(in.GrantAmount)
	return Fields{
		OrgName:       in.OrgName,
		OrgPrefix:     in.OrgPrefix,
		AuthorName:    in.AuthorName,
		AuthorEmail:   in.AuthorEmail,
		StateName:     in.StateName,
		StateAbbrev:   strings.ToUpper(in.StateAbbrev),
		ChapterName:   in.ChapterName,
		ChapterType:   in.ChapterType,
		EffectiveDate: in.SigningDate,
		Timeline:      tl,
		GrantAmount:   in.GrantAmount,
		FirstPayment:  fmt.Sprintf("%.2f", first),
		SecondPayment: fmt.Sprintf("%.2f", second),
		FinalPayment:  fmt.Sprintf("%.2f", final),
		ScopeOfWork:   ScopeFor(in.ChapterType, in.ChapterName),
	}
}

// Filename builds the deterministic agreement filename. The same inputs
// always produce the same name, so regeneration overwrites rather than
// accumulating near-duplicates in the file store.
func Filename(orgPrefix, stateAbbrev, chapterName, authorName string) string {
	return fmt.Sprintf("%s_Agreement_%s_%s_%s.docx",
		orgPrefix,
		strings.ToUpper(stateAbbrev),
		util.Slug(chapterName),
		util.Initials(authorName),
	)
}
