package contract

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

var agreementTemplate = template.Must(template.New("agreement").Funcs(template.FuncMap{
	"longDate": func(t time.Time) string {
		return t.Format("January 2, 2006")
	},
}).Parse(agreementHTML))

// RenderHTML produces the agreement document as standalone HTML. The
// numbered section structure and the substituted dates and payment amounts
// are the contractually significant parts; styling is incidental.
func RenderHTML(fields Fields) (string, error) {
	var buf bytes.Buffer
	if err := agreementTemplate.Execute(&buf, fields); err != nil {
		return "", fmt.Errorf("render agreement: %w", err)
	}
	return buf.String(), nil
}

const agreementHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Chapter Authorship Agreement</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.5; max-width: 760px; margin: 2rem auto; }
    h1 { text-align: center; font-size: 1.3em; text-transform: uppercase; letter-spacing: 0.05em; }
    h2 { font-size: 1em; margin-top: 1.5em; }
    table { border-collapse: collapse; width: 100%; margin: 1em 0; }
    th, td { border: 1px solid #444; padding: 0.4em 0.7em; text-align: left; }
    .sig { margin-top: 3em; display: flex; justify-content: space-between; }
    .sig div { width: 45%; border-top: 1px solid #000; padding-top: 0.3em; }
  </style>
</head>
<body>
  <h1>Chapter Authorship Agreement</h1>

  <p>This Chapter Authorship Agreement (the &ldquo;Agreement&rdquo;) is entered into
  as of {{longDate .EffectiveDate}} (the &ldquo;Effective Date&rdquo;) by and between
  {{.OrgName}} (the &ldquo;Organization&rdquo;) and {{.AuthorName}} (the &ldquo;Author&rdquo;),
  together the &ldquo;Parties,&rdquo; for the preparation of the {{.ChapterName}} chapter
  of the {{.StateName}} report.</p>

  <h2>1. Engagement</h2>
  <p>The Organization engages the Author, and the Author accepts the engagement,
  to research, draft, and revise the chapter described in Section 2 on the terms
  set out in this Agreement.</p>

  <h2>2. Scope of Work</h2>
  <p>{{.ScopeOfWork}}</p>

  <h2>3. Term</h2>
  <p>This Agreement begins on the Effective Date and continues until final
  approval of the chapter under Section 12 or earlier termination under
  Section 14.</p>

  <h2>4. Delivery Schedule</h2>
  <p>The Author shall meet the milestone dates set out in Annex A. The schedule
  is computed from the jurisdiction's regulatory deadline of
  {{longDate .Timeline.Deadline}} and the Parties acknowledge the schedule pace
  is classified as {{.Timeline.Pace}}.</p>

  <h2>5. Compensation</h2>
  <p>The total grant for the chapter is ${{printf "%.2f" .GrantAmount}},
  payable in the installments set out in Section 6.</p>

  <h2>6. Payment Schedule</h2>
  <table>
    <tr><th>Installment</th><th>Trigger</th><th>Amount</th></tr>
    <tr><td>First (37.5%)</td><td>Execution of this Agreement</td><td>${{.FirstPayment}}</td></tr>
    <tr><td>Second (37.5%)</td><td>Acceptance of the first draft</td><td>${{.SecondPayment}}</td></tr>
    <tr><td>Final (25%)</td><td>Final approval for publication</td><td>${{.FinalPayment}}</td></tr>
  </table>

  <h2>7. Expenses</h2>
  <p>The compensation in Section 5 is inclusive of all expenses. No additional
  expense reimbursement is provided unless agreed in writing in advance.</p>

  <h2>8. Independent Contractor Status</h2>
  <p>The Author is an independent contractor. Nothing in this Agreement creates
  an employment, agency, partnership, or joint venture relationship between the
  Parties.</p>

  <h2>9. Work Product and Ownership</h2>
  <p>All drafts and the final chapter are works made for hire. To the extent
  any work product is not a work made for hire, the Author assigns to the
  Organization all right, title, and interest in it.</p>

  <h2>10. Attribution</h2>
  <p>The Organization will credit the Author by name in the published report
  unless the Author requests otherwise in writing.</p>

  <h2>11. Representations and Warranties</h2>
  <p>The Author represents that the chapter will be original work, will not
  infringe any third-party rights, and that statutory and case citations will
  be accurate as of the dates in Annex A.</p>

  <h2>12. Review and Revisions</h2>
  <p>The Organization will return review comments by the review return date in
  Annex A. The Author shall incorporate revisions and deliver the revised
  chapter by the grammar proof date. Final approval occurs when the
  Organization accepts the revised chapter in writing.</p>

  <h2>13. Confidentiality</h2>
  <p>The Author shall keep confidential any non-public information of the
  Organization received in connection with this engagement.</p>

  <h2>14. Termination</h2>
  <p>Either Party may terminate this Agreement on fourteen days' written
  notice. On termination, the Organization shall pay for installments whose
  triggers occurred before the notice date, and the Author shall deliver all
  work product then in progress.</p>

  <h2>15. Indemnification</h2>
  <p>Each Party shall indemnify the other against third-party claims arising
  from its breach of this Agreement.</p>

  <h2>16. Limitation of Liability</h2>
  <p>Neither Party is liable for indirect, incidental, or consequential
  damages. Each Party's aggregate liability is capped at the total
  compensation in Section 5.</p>

  <h2>17. Governing Law</h2>
  <p>This Agreement is governed by the laws of the jurisdiction of the
  Organization's principal place of business, without regard to conflict of
  law rules.</p>

  <h2>18. Entire Agreement</h2>
  <p>This Agreement is the entire agreement between the Parties regarding the
  chapter and supersedes all prior discussions. Amendments must be in writing
  and signed by both Parties.</p>

  <h2>19. Counterparts and Signatures</h2>
  <p>This Agreement may be executed in counterparts, including by electronic
  signature, each of which is an original.</p>

  <div class="sig">
    <div>{{.OrgName}}</div>
    <div>{{.AuthorName}}</div>
  </div>

  <h2>Annex A &mdash; Milestone Schedule ({{.StateAbbrev}} / {{.ChapterName}})</h2>
  <table>
    <tr><th>Milestone</th><th>Date</th></tr>
    <tr><td>Signing</td><td>{{longDate .Timeline.SigningDate}}</td></tr>
    <tr><td>Expert questions sent</td><td>{{longDate .Timeline.ExpertQ}}</td></tr>
    <tr><td>First draft due</td><td>{{longDate .Timeline.FirstDraft}}</td></tr>
    <tr><td>Review returned to author</td><td>{{longDate .Timeline.ReviewReturn}}</td></tr>
    <tr><td>Grammar proof complete</td><td>{{longDate .Timeline.GrammarProof}}</td></tr>
    <tr><td>Final approval</td><td>{{longDate .Timeline.FinalApproval}}</td></tr>
    <tr><td>Regulatory deadline</td><td>{{longDate .Timeline.Deadline}}</td></tr>
  </table>
</body>
</html>`
