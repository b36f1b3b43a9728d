package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSQLGenerationSystemPrompt(t *testing.T) {
	schema := "Table: orders\n  id (integer, NOT NULL)\n  amount (numeric)\n"

	prompt := BuildSQLGenerationSystemPrompt(schema, "PostgreSQL")

	assert.Contains(t, prompt, "a PostgreSQL query")
	assert.Contains(t, prompt, "Table: orders\n  id (integer, NOT NULL)")
	assert.Contains(t, prompt, "2. Write syntactically valid PostgreSQL.")
	assert.Contains(t, prompt, "8. Limit the result to at most 1000 rows.")
	assert.Contains(t, prompt, "9. Return only the SQL statement")
	assert.NotContains(t, prompt, "10.")
	assert.NotContains(t, prompt, "%!")
}

func TestBuildSQLGenerationSystemPrompt_EmptySchema(t *testing.T) {
	prompt := BuildSQLGenerationSystemPrompt("  \n", "MySQL")
	assert.Contains(t, prompt, "(no tables were discovered)")
}

func TestBuildSQLGenerationUserPrompt(t *testing.T) {
	prompt := BuildSQLGenerationUserPrompt("  how many customers?  ")
	assert.True(t, strings.HasPrefix(prompt, "Question: how many customers?\n"))
	assert.True(t, strings.HasSuffix(prompt, "SQL:"))
}
