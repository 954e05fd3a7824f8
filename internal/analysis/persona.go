package analysis

import "strings"

type Persona string

const (
	PersonaStudent    Persona = "Student"
	PersonaEngineer   Persona = "Engineer"
	PersonaExpert     Persona = "Expert"
	PersonaResearcher Persona = "Researcher"
	PersonaGeneral    Persona = "General"

	DefaultPersona = PersonaEngineer
)

var personaInstructions = map[Persona]string{
	PersonaStudent:    "Use simple, accessible language. Explain technical concepts clearly. Avoid jargon where possible.",
	PersonaEngineer:   "Use professional technical language. Balance clarity with precision. Assume familiarity with scientific concepts.",
	PersonaExpert:     "Use advanced technical terminology. Provide deep, nuanced analysis. Assume domain expertise.",
	PersonaResearcher: "Use rigorous academic language. Situate the work within its research field and point out open questions.",
	PersonaGeneral:    "Use plain, everyday language. Focus on why the work matters rather than how it was done.",
}

// ParsePersona matches case-insensitively and falls back to Engineer.
func ParsePersona(s string) Persona {
	for p := range personaInstructions {
		if strings.EqualFold(string(p), strings.TrimSpace(s)) {
			return p
		}
	}
	return DefaultPersona
}

func (p Persona) Valid() bool {
	_, ok := personaInstructions[p]
	return ok
}

// Normalize maps unknown personas to the default.
func (p Persona) Normalize() Persona {
	if p.Valid() {
		return p
	}
	return DefaultPersona
}

func (p Persona) Instruction() string {
	return personaInstructions[p.Normalize()]
}

func Personas() []Persona {
	return []Persona{PersonaStudent, PersonaEngineer, PersonaExpert, PersonaResearcher, PersonaGeneral}
}
