// Package textstats computes the reader-facing statistics of a paper: the
// most frequent terms, a readability grade and the years it cites.
package textstats

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jdkato/prose/v2"
)

const (
	TopWords       = 50
	WordsPerMinute = 200
	MinYear        = 1950
	minWordLength  = 4
)

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`the and of to a in is that for it as was with on by are be this an at
		from or which but not can has have we our their all also more one use used using based data results
		model paper proposed method system analysis study et al`) {
		stopWords[w] = struct{}{}
	}
}

var (
	nonWordRe = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	yearRe    = regexp.MustCompile(`\b(19|20)\d{2}\b`)
)

type WordCount struct {
	Word  string  `json:"text"`
	Count int     `json:"count"`
	Size  float64 `json:"size"`
}

type Readability struct {
	GradeLevel    float64 `json:"gradeLevel"`
	ReadingTime   int     `json:"readingTime"`
	WordCount     int     `json:"wordCount"`
	SentenceCount int     `json:"sentenceCount"`
}

type YearCount struct {
	Year  int `json:"year"`
	Count int `json:"count"`
}

type Report struct {
	TopWords         []WordCount `json:"topWords"`
	Readability      Readability `json:"readability"`
	CitationTimeline []YearCount `json:"citationTimeline"`
}

// Analyze computes every statistic for text. Years after now are ignored.
func Analyze(text string, now time.Time) (*Report, error) {
	readability, err := ComputeReadability(text)
	if err != nil {
		return nil, err
	}
	return &Report{
		TopWords:         WordFrequency(text, TopWords),
		Readability:      readability,
		CitationTimeline: CitationTimeline(text, now),
	}, nil
}

func words(text string) []string {
	return strings.Fields(nonWordRe.ReplaceAllString(strings.ToLower(text), ""))
}

// WordFrequency returns the limit most common words of at least four
// letters, stop words excluded. Ties are ordered alphabetically.
func WordFrequency(text string, limit int) []WordCount {
	counts := make(map[string]int)
	for _, w := range words(text) {
		if utf8.RuneCountInString(w) < minWordLength {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		counts[w]++
	}

	out := make([]WordCount, 0, len(counts))
	for w, c := range counts {
		out = append(out, WordCount{Word: w, Count: c, Size: 10 + math.Sqrt(float64(c))*5})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Word < out[j].Word
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ComputeReadability estimates the Flesch-Kincaid grade. Syllables are
// approximated as one per three characters.
func ComputeReadability(text string) (Readability, error) {
	wordCount := len(words(text))
	if wordCount == 0 {
		return Readability{}, nil
	}

	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithTokenization(false),
	)
	if err != nil {
		return Readability{}, fmt.Errorf("failed to segment text: %w", err)
	}
	sentences := len(doc.Sentences())
	if sentences == 0 {
		sentences = 1
	}

	syllables := float64(utf8.RuneCountInString(text)) / 3
	grade := 0.39*(float64(wordCount)/float64(sentences)) + 11.8*(syllables/float64(wordCount)) - 15.59

	return Readability{
		GradeLevel:    math.Round(math.Max(0, grade)*10) / 10,
		ReadingTime:   int(math.Ceil(float64(wordCount) / WordsPerMinute)),
		WordCount:     wordCount,
		SentenceCount: sentences,
	}, nil
}

// CitationTimeline counts four-digit years between MinYear and now's year,
// oldest first.
func CitationTimeline(text string, now time.Time) []YearCount {
	counts := make(map[int]int)
	for _, m := range yearRe.FindAllString(text, -1) {
		year, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		if year >= MinYear && year <= now.Year() {
			counts[year]++
		}
	}

	out := make([]YearCount, 0, len(counts))
	for y, c := range counts {
		out = append(out, YearCount{Year: y, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}
