package domain

import (
	"html"
	"strings"

	"github.com/blackmichael/altcheck/internal/messages"
)

// ReportBuilder turns a scan report into the HTML body of a feedback comment.
type ReportBuilder struct {
	bank *messages.Bank
	rng  messages.Rand
}

// NewReportBuilder creates a builder drawing phrasings from bank with rng.
// Phrasings are written as they are; banks read from a file are sanitized by
// messages.Load.
func NewReportBuilder(bank *messages.Bank, rng messages.Rand) *ReportBuilder {
	return &ReportBuilder{
		bank: bank,
		rng:  rng,
	}
}

// Render builds the comment body. When introSent is false the comment opens
// with an intro addressed to authorName and introJustSent is true. Each
// category with at least one defect contributes one list item, in the order
// of Categories, however many elements triggered it.
func (b *ReportBuilder) Render(authorName string, introSent bool, report ScanReport) (content string, introJustSent bool) {
	var intro string
	if !introSent {
		intro = strings.ReplaceAll(
			messages.Pick(b.bank.Intro, b.rng),
			messages.AuthorPlaceholder,
			html.EscapeString(authorName),
		)
		introJustSent = true
	}

	var sb strings.Builder
	sb.WriteString("<p>")
	sb.WriteString(intro)
	sb.WriteString("</p><ul>")
	for _, c := range Categories {
		if len(report.Elements(c)) == 0 {
			continue
		}
		sb.WriteString("<li>")
		sb.WriteString(messages.Pick(b.phrasings(c), b.rng))
		sb.WriteString("</li>")
	}
	sb.WriteString("</ul><p>")
	sb.WriteString(messages.Pick(b.bank.Closing, b.rng))
	sb.WriteString("</p>")

	return sb.String(), introJustSent
}

func (b *ReportBuilder) phrasings(c DefectCategory) []string {
	switch c {
	case MissingAlt:
		return b.bank.MissingAlt
	case EmptyAlt:
		return b.bank.EmptyAlt
	case AriaIssue:
		return b.bank.AriaIssue
	default:
		return nil
	}
}
