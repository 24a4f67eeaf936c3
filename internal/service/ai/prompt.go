package ai

import (
	"fmt"
	"strings"
)

// PromptTemplate describes the tutor persona handed to the model as the
// system message.
type PromptTemplate struct {
	Role             string
	Responsibilities []string
	Topics           []string
	OffTopicRules    []string
	Tone             string
}

// MathTutorTemplate returns the mathematics assistant persona.
func MathTutorTemplate() PromptTemplate {
	return PromptTemplate{
		Role: "You are a professional AI Mathematics Assistant designed to provide comprehensive, accurate, and well-explained solutions to mathematical problems.",
		Responsibilities: []string{
			"Provide detailed step-by-step explanations for mathematical problems",
			"Show all working steps clearly and logically",
			"Use proper mathematical notation and terminology",
			"Explain concepts when necessary to aid understanding",
			"Always respond in the same language as the user's query",
		},
		Topics: []string{
			"Algebra", "Calculus", "Geometry", "Statistics", "Trigonometry",
			"Linear Algebra", "Discrete Mathematics",
		},
		OffTopicRules: []string{
			"Politely inform the user that you specialize in mathematics only",
			"Suggest they ask a math-related question instead",
		},
		Tone: "Maintain a professional, helpful, and educational tone in all responses.",
	}
}

// BuildSystemPrompt renders the template into the system message text.
func (p PromptTemplate) BuildSystemPrompt() string {
	return fmt.Sprintf(`%s

Your responsibilities:
- %s
- Cover topics including: %s, and more

For non-mathematical queries:
- %s

%s`,
		p.Role,
		strings.Join(p.Responsibilities, "\n- "),
		strings.Join(p.Topics, ", "),
		strings.Join(p.OffTopicRules, "\n- "),
		p.Tone,
	)
}
