package domain

import (
	"regexp"
	"sort"
	"strings"
)

// MediaKind is the tag shape a media element was matched as.
type MediaKind string

const (
	MediaImage   MediaKind = "image"
	MediaSVG     MediaKind = "vector-graphic"
	MediaPicture MediaKind = "responsive-picture"
)

// DefectCategory is the kind of accessibility problem found on an element.
type DefectCategory int

const (
	MissingAlt DefectCategory = iota
	EmptyAlt
	AriaIssue
)

// Categories lists every defect category in the order feedback mentions them.
var Categories = []DefectCategory{MissingAlt, EmptyAlt, AriaIssue}

func (c DefectCategory) String() string {
	switch c {
	case MissingAlt:
		return "missing_alt"
	case EmptyAlt:
		return "empty_alt"
	case AriaIssue:
		return "aria_issue"
	default:
		return "unknown"
	}
}

// MediaElement is a piece of the post body that matched one of the media
// tag shapes.
type MediaElement struct {
	Kind   MediaKind
	Markup string

	// Offset is the byte offset of the element in the post body.
	Offset int
}

// ScanReport groups defective elements by category in document order.
// Repeated identical tags each appear in the report.
type ScanReport struct {
	MissingAlt []MediaElement
	EmptyAlt   []MediaElement
	AriaIssue  []MediaElement
}

// Empty reports whether no defects were found.
func (r ScanReport) Empty() bool {
	return len(r.MissingAlt) == 0 && len(r.EmptyAlt) == 0 && len(r.AriaIssue) == 0
}

// Elements returns the elements recorded for a category.
func (r ScanReport) Elements(c DefectCategory) []MediaElement {
	switch c {
	case MissingAlt:
		return r.MissingAlt
	case EmptyAlt:
		return r.EmptyAlt
	case AriaIssue:
		return r.AriaIssue
	default:
		return nil
	}
}

func (r *ScanReport) add(c DefectCategory, el MediaElement) {
	switch c {
	case MissingAlt:
		r.MissingAlt = append(r.MissingAlt, el)
	case EmptyAlt:
		r.EmptyAlt = append(r.EmptyAlt, el)
	case AriaIssue:
		r.AriaIssue = append(r.AriaIssue, el)
	}
}

var (
	imgPattern     = regexp.MustCompile(`(?i)<img\b[^>]*>`)
	svgPattern     = regexp.MustCompile(`(?is)<svg\b.*?</svg\s*>`)
	picturePattern = regexp.MustCompile(`(?is)<picture\b.*?</picture\s*>`)

	// Attribute names must follow whitespace, a closing quote or a slash, so
	// data-alt and similar attributes are not mistaken for alt while
	// src="a.jpg"alt="cat" still counts.
	altPattern       = regexp.MustCompile(`(?is)[\s"'/]alt\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	ariaLabelPattern = regexp.MustCompile(`(?is)[\s"'/]aria-label\s*=\s*(?:"[^"]*"|'[^']*')`)
	roleImgPattern   = regexp.MustCompile(`(?is)[\s"'/]role\s*=\s*(?:"img"|'img')`)
)

var mediaPatterns = []struct {
	kind    MediaKind
	pattern *regexp.Regexp
}{
	{MediaImage, imgPattern},
	{MediaSVG, svgPattern},
	{MediaPicture, picturePattern},
}

// Scan finds images, inline SVGs and picture elements in body and sorts the
// defective ones into categories. Each shape is matched on its own, so an
// <img> inside a <picture> is judged separately from the picture. Markup that
// does not match a shape (unterminated tags and the like) is ignored.
func Scan(body string) ScanReport {
	var report ScanReport
	for _, el := range extractMedia(body) {
		if c, ok := classify(el); ok {
			report.add(c, el)
		}
	}
	return report
}

func extractMedia(body string) []MediaElement {
	var elements []MediaElement
	for _, mp := range mediaPatterns {
		for _, loc := range mp.pattern.FindAllStringIndex(body, -1) {
			elements = append(elements, MediaElement{
				Kind:   mp.kind,
				Markup: body[loc[0]:loc[1]],
				Offset: loc[0],
			})
		}
	}
	sort.SliceStable(elements, func(i, j int) bool {
		return elements[i].Offset < elements[j].Offset
	})
	return elements
}

func classify(el MediaElement) (DefectCategory, bool) {
	switch el.Kind {
	case MediaImage:
		alt, ok := altValue(el.Markup)
		if !ok {
			return MissingAlt, true
		}
		if strings.TrimSpace(alt) == "" {
			return EmptyAlt, true
		}
		return 0, false

	case MediaSVG:
		if ariaLabelPattern.MatchString(el.Markup) || roleImgPattern.MatchString(el.Markup) {
			return 0, false
		}
		return AriaIssue, true

	case MediaPicture:
		// Only the presence of alt on a nested image counts here; an empty
		// value passes.
		for _, img := range imgPattern.FindAllString(el.Markup, -1) {
			if _, ok := altValue(img); ok {
				return 0, false
			}
		}
		return MissingAlt, true
	}
	return 0, false
}

// altValue returns the value of the first quoted alt attribute in tag.
func altValue(tag string) (string, bool) {
	m := altPattern.FindStringSubmatchIndex(tag)
	if m == nil {
		return "", false
	}
	if m[2] >= 0 {
		return tag[m[2]:m[3]], true
	}
	return tag[m[4]:m[5]], true
}
