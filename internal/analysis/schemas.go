package analysis

import "github.com/paperlens/backend/internal/llm"

func str() llm.Schema { return llm.Schema{"type": "string"} }

func strDesc(desc string) llm.Schema {
	return llm.Schema{"type": "string", "description": desc}
}

func arrayOf(items llm.Schema) llm.Schema {
	return llm.Schema{"type": "array", "items": items}
}

func object(required []string, props map[string]any) llm.Schema {
	return llm.Schema{"type": "object", "properties": props, "required": required}
}

var pointSchema = object([]string{"point", "evidence"}, map[string]any{
	"point":    str(),
	"evidence": str(),
})

var relatedQuerySchema = object([]string{"query", "justification"}, map[string]any{
	"query":         str(),
	"justification": str(),
})

func relatedCategory() llm.Schema {
	s := arrayOf(relatedQuerySchema)
	s["minItems"] = 2
	s["maxItems"] = 4
	return s
}

var (
	CoreSchema = object(
		[]string{"title", "takeaways", "summary", "problemStatement", "methodology", "keyFindings"},
		map[string]any{
			"title":           strDesc("The title of the paper"),
			"authors":         llm.Schema{"type": "array", "items": str(), "description": "List of authors"},
			"publicationYear": strDesc("Year of publication"),
			"takeaways": llm.Schema{
				"type":        "array",
				"items":       str(),
				"description": "3-5 key takeaways from the paper",
				"minItems":    3,
				"maxItems":    5,
			},
			"summary":          strDesc("Comprehensive summary of the paper"),
			"problemStatement": strDesc("The problem the paper addresses"),
			"methodology":      strDesc("The methods used in the research"),
			"keyFindings": llm.Schema{
				"type": "array",
				"items": object([]string{"finding", "evidence"}, map[string]any{
					"finding":  str(),
					"evidence": strDesc("Direct quote from the paper"),
				}),
				"description": "Key findings, each with a direct quote as evidence",
				"minItems":    3,
			},
		},
	)

	AdvancedSchema = object([]string{"strengths", "weaknesses", "hypotheses"}, map[string]any{
		"strengths":  arrayOf(pointSchema),
		"weaknesses": arrayOf(pointSchema),
		"hypotheses": arrayOf(object([]string{"hypothesis", "experimentalDesign"}, map[string]any{
			"hypothesis":         str(),
			"experimentalDesign": str(),
			"expectedOutcome":    str(),
		})),
	})

	ReferencesSchema = object([]string{"references"}, map[string]any{
		"references": arrayOf(object([]string{"apa", "bibtex"}, map[string]any{
			"apa":    str(),
			"bibtex": str(),
		})),
	})

	RelatedSchema = object([]string{"similar", "methodology", "evolution", "contradictory"}, map[string]any{
		"similar":       relatedCategory(),
		"methodology":   relatedCategory(),
		"evolution":     relatedCategory(),
		"contradictory": relatedCategory(),
	})

	GlossarySchema = object([]string{"terms"}, map[string]any{
		"terms": arrayOf(object([]string{"term", "definition"}, map[string]any{
			"term":       str(),
			"definition": str(),
		})),
	})

	SummarySchema = object([]string{"summary"}, map[string]any{"summary": str()})

	FigureSchema = object([]string{"explanation"}, map[string]any{"explanation": str()})

	QuizSchema = object([]string{"questions"}, map[string]any{
		"questions": llm.Schema{
			"type": "array",
			"items": object([]string{"question", "options", "correctAnswer", "explanation"}, map[string]any{
				"question":      str(),
				"options":       llm.Schema{"type": "array", "items": str(), "minItems": 4, "maxItems": 4},
				"correctAnswer": llm.Schema{"type": "number", "minimum": 0, "maximum": 3},
				"explanation":   str(),
			}),
			"minItems": 5,
			"maxItems": 5,
		},
	})

	PresentationSchema = object([]string{"slides"}, map[string]any{
		"slides": arrayOf(object([]string{"title", "content"}, map[string]any{
			"title":   str(),
			"content": arrayOf(str()),
		})),
	})

	SynthesisSchema = object([]string{"overallSynthesis", "commonThemes", "conflictingFindings", "conceptEvolution"}, map[string]any{
		"overallSynthesis": str(),
		"commonThemes": arrayOf(object([]string{"theme", "papersDiscussing"}, map[string]any{
			"theme":            str(),
			"papersDiscussing": arrayOf(str()),
		})),
		"conflictingFindings": arrayOf(object([]string{"topic", "conflicts"}, map[string]any{
			"topic":     str(),
			"conflicts": str(),
		})),
		"conceptEvolution": str(),
	})

	ValidationSchema = object([]string{"isValid", "reason"}, map[string]any{
		"isValid": llm.Schema{"type": "boolean"},
		"reason":  str(),
	})
)
