package analysis

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// RelevanceThreshold is the length above which the core prompt only gets
	// the paragraphs that look like they matter.
	RelevanceThreshold = 100000
	// LongParagraph is the length above which a paragraph is kept regardless
	// of keywords.
	LongParagraph = 200

	BibliographyStartRatio = 0.7
	BibliographyWindow     = 15000
	GlossaryWindow         = 5000
	SummaryWindow          = 8000
	ValidationWindow       = 2000
)

var (
	paragraphBreak  = regexp.MustCompile(`\n\n+`)
	sectionKeywords = []string{"abstract", "introduction", "method", "result", "conclusion", "discussion"}
	bibMarkers      = []string{"references", "bibliography", "works cited", "citations"}
)

// ExtractRelevantSections keeps paragraphs that name a paper section or are
// long, until the budget is reached. Short texts pass through untouched.
func ExtractRelevantSections(text string) string {
	return extractRelevant(text, RelevanceThreshold)
}

func extractRelevant(text string, budget int) string {
	if utf8.RuneCountInString(text) <= budget {
		return text
	}

	var kept []string
	length := 0
	for _, para := range paragraphBreak.Split(text, -1) {
		if !isRelevant(para) {
			continue
		}
		if len(kept) > 0 {
			length += 2
		}
		kept = append(kept, para)
		length += utf8.RuneCountInString(para)
		if length >= budget {
			break
		}
	}

	return truncate(strings.Join(kept, "\n\n"), budget)
}

func isRelevant(para string) bool {
	if utf8.RuneCountInString(para) > LongParagraph {
		return true
	}
	lower := strings.ToLower(para)
	for _, kw := range sectionKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// BibliographySection returns the slice of text most likely to hold the
// reference list and whether a bibliography heading appears anywhere.
func BibliographySection(text string) (string, bool) {
	lower := strings.ToLower(text)
	found := false
	for _, marker := range bibMarkers {
		if strings.Contains(lower, marker) {
			found = true
			break
		}
	}

	runes := []rune(text)
	start := int(float64(len(runes)) * BibliographyStartRatio)
	section := runes[start:]
	if len(section) > BibliographyWindow {
		section = section[:BibliographyWindow]
	}
	return string(section), found
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
