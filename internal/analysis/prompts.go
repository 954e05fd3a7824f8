package analysis

import (
	"fmt"
	"strings"
)

type SummaryLength string

const (
	LengthShort  SummaryLength = "short"
	LengthMedium SummaryLength = "medium"
	LengthLong   SummaryLength = "long"
)

var lengthInstructions = map[SummaryLength]string{
	LengthShort:  "100-150 words",
	LengthMedium: "200-300 words",
	LengthLong:   "400-500 words",
}

type SummaryDepth string

const (
	DepthHighLevel SummaryDepth = "high_level"
	DepthBalanced  SummaryDepth = "balanced"
	DepthTechnical SummaryDepth = "technical"
)

var depthInstructions = map[SummaryDepth]string{
	DepthHighLevel: "Focus on main ideas and conclusions only. Avoid technical details.",
	DepthBalanced:  "Balance main ideas with key technical details. Explain methods briefly.",
	DepthTechnical: "Include all technical details, mathematical formulations, and precise methodology.",
}

func (l SummaryLength) Normalize() SummaryLength {
	if _, ok := lengthInstructions[l]; ok {
		return l
	}
	return LengthMedium
}

func (d SummaryDepth) Normalize() SummaryDepth {
	if _, ok := depthInstructions[d]; ok {
		return d
	}
	return DepthBalanced
}

const noCaption = "No caption provided"

func corePrompt(text string, persona Persona) string {
	return fmt.Sprintf(`You are analyzing a scientific research paper for a %s.

%s

Paper text:
%s

Provide a comprehensive core analysis including:
1. Title and basic metadata
2. 3-5 key takeaways (most important contributions)
3. A comprehensive summary (200-300 words)
4. The problem statement this paper addresses
5. The methodology used
6. Key findings with DIRECT QUOTES from the paper as evidence

Each finding must include a verbatim quote from the paper as evidence.`, persona, persona.Instruction(), text)
}

func advancedPrompt(text string, core Core) string {
	return fmt.Sprintf(`You are conducting an advanced analysis of a scientific research paper.

Paper title: %s
Paper summary: %s

Full paper text:
%s

Provide:
1. STRENGTHS: 3-5 key strengths with direct quotes as evidence
2. WEAKNESSES: 3-5 limitations or areas for improvement with direct quotes as evidence
3. NOVEL HYPOTHESES: 3-4 testable hypotheses that extend from this work, each with:
   - The hypothesis statement
   - A detailed experimental design to test it
   - Expected outcomes

Be critical but fair. Ground everything in evidence from the paper.`, core.Title, core.Summary, text)
}

func referencesPrompt(section string, hasBibliography bool) string {
	label := "Paper text:"
	if hasBibliography {
		label = "Bibliography section:"
	}
	return fmt.Sprintf(`Extract all references/citations from this research paper's bibliography section.

%s
%s

IMPORTANT:
- Extract ONLY if there are actual citations/references present
- Return an EMPTY array if no references/bibliography section exists
- For each reference found, provide:
  1. APA format (author, year, title, journal/publisher)
  2. BibTeX format (properly formatted for LaTeX)

Look for patterns like:
- [1] Author et al. (Year). Title...
- Author, A. (Year). Title. Journal...
- Numbered or bulleted citations`, label, section)
}

func relatedPrompt(title, summary string) string {
	return fmt.Sprintf(`Generate search queries to find research papers related to this paper.

Title: %s
Summary: %s

Group the queries into four categories, with 2-4 queries in each:
- similar: papers on similar topics
- methodology: papers using similar methods
- evolution: foundational work and recent advances in this area
- contradictory: papers with contradictory or competing findings

For each query, give a one-sentence justification of why it will surface relevant work.`, title, summary)
}

func glossaryPrompt(text string, persona Persona) string {
	return fmt.Sprintf(`Identify 10-15 key technical terms or concepts from this research paper and provide clear definitions suitable for a %s.

Paper text:
%s

For each term, provide a concise, context-aware definition (1-2 sentences).`, persona, truncate(text, GlossaryWindow))
}

func summaryPrompt(text string, persona Persona, length SummaryLength, depth SummaryDepth) string {
	return fmt.Sprintf(`Generate a summary of this research paper for a %s.

Length: %s
Depth: %s

Paper text:
%s

Provide a well-structured summary that matches the requested length and depth.`,
		persona, lengthInstructions[length.Normalize()], depthInstructions[depth.Normalize()], truncate(text, SummaryWindow))
}

func figurePrompt(paperContext, caption, number string) string {
	if strings.TrimSpace(caption) == "" {
		caption = noCaption
	}
	return fmt.Sprintf(`Explain this figure from a research paper.

Paper context: %s
Figure number: %s
Caption: %s

Provide a detailed explanation (150-200 words) covering:
- What the figure shows
- How it relates to the paper's findings
- Key takeaways from this visualization
- Any important details in the figure`, paperContext, number, caption)
}

func quizPrompt(abstract string) string {
	return fmt.Sprintf(`Based on this research paper abstract, generate a 5-question multiple choice quiz to assess the reader's expertise level.

Abstract:
%s

Generate 5 questions that:
- Start easy (basic comprehension)
- Progress to medium (application)
- End difficult (analysis/synthesis)

Each question should have 4 options with exactly one correct answer.
Provide explanations for the correct answers.`, abstract)
}

func presentationPrompt(a *Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Create a presentation outline for this research paper.

Title: %s
Summary: %s
Problem: %s
Methodology: %s
Key Findings: %s
`, a.Title, a.Summary, a.ProblemStatement, a.Methodology, a.FindingsText())

	if len(a.Strengths) > 0 || len(a.Weaknesses) > 0 {
		fmt.Fprintf(&b, "Strengths: %s\nLimitations: %s\n", joinPoints(a.Strengths), joinPoints(a.Weaknesses))
	}

	b.WriteString(`
Generate 6-8 slides with:
- Title slide
- Introduction/Problem Statement
- Methodology
- Key Results (can be multiple slides)
- Strengths & Limitations
- Conclusion/Future Work

Each slide should have a title and 3-5 bullet points of content.`)
	return b.String()
}

func synthesisPrompt(papers []*Analysis) string {
	summaries := make([]string, 0, len(papers))
	for i, p := range papers {
		summaries = append(summaries, fmt.Sprintf("Paper %d: %s\nSummary: %s\nKey Findings: %s",
			i+1, p.Title, p.Summary, p.FindingsText()))
	}

	return fmt.Sprintf(`Analyze and synthesize these %d research papers:

%s

Provide:
1. OVERALL SYNTHESIS: A narrative weaving together the core ideas (300-400 words)
2. COMMON THEMES: Identify shared concepts, methods, or findings across papers
3. CONFLICTING FINDINGS: Highlight disagreements or contradictions between papers
4. CONCEPT EVOLUTION: How do ideas develop, refine, or challenge each other across this body of work?`,
		len(papers), strings.Join(summaries, "\n\n---\n\n"))
}

func validationPrompt(text string) string {
	return fmt.Sprintf(`Analyze the following text and determine if it is a scientific research paper.

A scientific paper typically has:
- An abstract or introduction
- Methodology or methods section
- Results or findings
- References or citations
- Academic/formal language

Text (first 2000 characters):
%s

Return your analysis in JSON format with:
- isValid: boolean (true if it's a scientific paper)
- reason: string (explanation of your decision)`, truncate(text, ValidationWindow))
}

func joinPoints(points []Point) string {
	parts := make([]string, 0, len(points))
	for _, p := range points {
		parts = append(parts, p.Point)
	}
	return strings.Join(parts, "; ")
}
