package prompts

import (
	"fmt"
	"strings"
)

// MaxResultRows is the row cap the model is told to apply with LIMIT.
const MaxResultRows = 1000

// sqlGenerationRules are numbered in the prompt; the model is asked to follow all of them.
var sqlGenerationRules = []string{
	"Use only the tables and columns listed in the schema above. Never invent names.",
	"Write syntactically valid %s.",
	"Generate a single read-only SELECT statement. Never modify data or schema.",
	"Prefer aggregate functions (COUNT, SUM, AVG, MIN, MAX) with GROUP BY when the question implies totals, averages or breakdowns.",
	"Use explicit JOIN ... ON clauses when the answer needs more than one table.",
	"Qualify column names with table aliases whenever more than one table is involved.",
	"Add ORDER BY when the question implies ranking, recency or a top-N list.",
	"Limit the result to at most %d rows.",
	"Return only the SQL statement, with no explanation, comments or markdown formatting.",
}

// BuildSQLGenerationSystemPrompt creates the system message for natural-language to SQL translation.
// It embeds the rendered schema text, the dialect name, and the fixed rule set.
func BuildSQLGenerationSystemPrompt(schemaText, dialectName string) string {
	var prompt strings.Builder

	prompt.WriteString(fmt.Sprintf("You are an expert SQL analyst. Translate the user's question into a %s query.\n\n", dialectName))

	prompt.WriteString("## Database Schema\n\n")
	if strings.TrimSpace(schemaText) == "" {
		prompt.WriteString("(no tables were discovered)\n")
	} else {
		prompt.WriteString(strings.TrimRight(schemaText, "\n"))
		prompt.WriteString("\n")
	}

	prompt.WriteString("\n## Rules\n\n")
	for i, rule := range sqlGenerationRules {
		switch i {
		case 1:
			rule = fmt.Sprintf(rule, dialectName)
		case 7:
			rule = fmt.Sprintf(rule, MaxResultRows)
		}
		prompt.WriteString(fmt.Sprintf("%d. %s\n", i+1, rule))
	}

	return prompt.String()
}

// BuildSQLGenerationUserPrompt wraps the question asked by the user.
func BuildSQLGenerationUserPrompt(question string) string {
	return fmt.Sprintf("Question: %s\n\nSQL:", strings.TrimSpace(question))
}
