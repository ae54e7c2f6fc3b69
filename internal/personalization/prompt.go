package personalization

import "strings"

// contentTypeClauses maps each non-default content type to its prompt clause
var contentTypeClauses = map[ContentType]string{
	ContentConcise:        " Keep the explanation concise.",
	ContentDetailed:       " Provide a detailed explanation.",
	ContentWithAnalogies:  " Include analogies to help understanding.",
	ContentIncludeVisuals: " Describe any relevant visuals that would aid understanding.",
}

// defaultClause is appended when no content type preference was given
const defaultClause = " Attach any relevant examples or analogies to help understanding." +
	" Attach any resources like blogs, articles, or videos that can help the user understand the topic better."

// BuildPrompt assembles the provider prompt for a request. It is pure and
// deterministic; the clause ordering (content-type clause, then note) is part
// of the observable contract.
func BuildPrompt(req Request) string {
	var b strings.Builder

	b.WriteString("Explain in full depth about ")
	b.WriteString(req.Topic)
	b.WriteString(" at a ")
	b.WriteString(string(req.LearningLevel))
	b.WriteString(" level.")

	if clause, ok := contentTypeClauses[req.ContentType]; ok {
		b.WriteString(clause)
	} else {
		b.WriteString(defaultClause)
	}

	if req.Note != "" {
		b.WriteString(" Note: ")
		b.WriteString(req.Note)
	}

	return b.String()
}
