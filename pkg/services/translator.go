package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/llm"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/logging"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/prompts"
	sqlsafety "github.com/ekaya-inc/ekaya-query-engine/pkg/sql"
)

// Strategy names how a Translator produces SQL. The two strategies carry
// different guarantees and are never substituted for one another.
type Strategy string

const (
	StrategyLLM     Strategy = "llm"
	StrategyKeyword Strategy = "keyword"
)

// Translator turns a natural-language question into a single SQL statement.
type Translator interface {
	// Translate returns apperrors.ErrNoSQLGenerated when no SQL can be extracted.
	Translate(ctx context.Context, question, schemaText string, dialect datasource.Dialect) (string, error)
	Strategy() Strategy
}

var (
	codeFencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
	limitPattern     = regexp.MustCompile(`(?i)\blimit\s+\d+`)
	readPattern      = regexp.MustCompile(`(?i)^\s*(select|with)\b`)
)

type llmTranslator struct {
	client      llm.LLMClient
	temperature float64
	logger      *zap.Logger
}

// NewLLMTranslator creates the primary translator backed by a language model.
func NewLLMTranslator(client llm.LLMClient, temperature float64, logger *zap.Logger) (Translator, error) {
	if client == nil {
		return nil, apperrors.ErrMissingLLMCredential
	}
	return &llmTranslator{
		client:      client,
		temperature: temperature,
		logger:      logger.Named("llm-translator"),
	}, nil
}

var _ Translator = (*llmTranslator)(nil)

func (t *llmTranslator) Strategy() Strategy { return StrategyLLM }

func (t *llmTranslator) Translate(ctx context.Context, question, schemaText string, dialect datasource.Dialect) (string, error) {
	systemMessage := prompts.BuildSQLGenerationSystemPrompt(schemaText, dialect.DisplayName())
	prompt := prompts.BuildSQLGenerationUserPrompt(question)

	result, err := t.client.GenerateResponse(ctx, prompt, systemMessage, t.temperature)
	if err != nil {
		t.logger.Error("SQL generation failed",
			zap.String("model", t.client.GetModel()),
			zap.String("error", logging.SanitizeError(err)))
		return "", fmt.Errorf("generate SQL: %w", err)
	}

	sqlQuery := ExtractSQL(result.Content)
	if sqlQuery == "" {
		return "", apperrors.ErrNoSQLGenerated
	}
	sqlQuery = EnsureRowLimit(sqlQuery, dialect)

	t.logger.Debug("Generated SQL",
		zap.String("sql", logging.SanitizeQuery(sqlQuery)),
		zap.Int("total_tokens", result.TotalTokens))

	return sqlQuery, nil
}

// ExtractSQL pulls a single statement out of a model response. Markdown fences
// and a leading "SQL:" label are stripped and only the first statement is kept.
// The statement is not inspected here; safety checks belong to the validator.
func ExtractSQL(content string) string {
	text := strings.TrimSpace(content)
	if m := codeFencePattern.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	text = strings.TrimSpace(strings.TrimPrefix(text, "SQL:"))

	return sqlsafety.FirstStatement(text)
}

// EnsureRowLimit appends LIMIT 1000 to a SELECT or WITH statement that has no
// LIMIT clause. The clause goes on its own line so a trailing -- comment cannot
// swallow it. Other statements pass through for the validator to judge.
// T-SQL has no LIMIT; the executor's row cap applies there instead.
func EnsureRowLimit(sqlQuery string, dialect datasource.Dialect) string {
	if dialect == datasource.DialectSQLServer || !readPattern.MatchString(sqlQuery) || limitPattern.MatchString(sqlQuery) {
		return sqlQuery
	}
	return fmt.Sprintf("%s\nLIMIT %d", strings.TrimRight(sqlQuery, " \t\r\n;"), prompts.MaxResultRows)
}

// KeywordRule maps a set of required phrases to a canned statement.
type KeywordRule struct {
	Keywords []string
	SQL      string
}

// DefaultKeywordRules serve the credential-free demo against the sample sales schema.
// Rules are tried in order; the first whose keywords all appear wins.
var DefaultKeywordRules = []KeywordRule{
	{Keywords: []string{"count", "customer"}, SQL: "SELECT COUNT(*) AS customer_count FROM customers"},
	{Keywords: []string{"how many", "customer"}, SQL: "SELECT COUNT(*) AS customer_count FROM customers"},
	{Keywords: []string{"sales", "month"}, SQL: "SELECT DATE_TRUNC('month', ordered_at) AS month, SUM(amount) AS total_sales FROM orders GROUP BY 1 ORDER BY 1 LIMIT 1000"},
	{Keywords: []string{"sales", "region"}, SQL: "SELECT c.region, SUM(o.amount) AS total_sales FROM orders o JOIN customers c ON c.id = o.customer_id GROUP BY c.region ORDER BY total_sales DESC LIMIT 1000"},
	{Keywords: []string{"top", "customer"}, SQL: "SELECT c.name, SUM(o.amount) AS total_spent FROM orders o JOIN customers c ON c.id = o.customer_id GROUP BY c.name ORDER BY total_spent DESC LIMIT 10"},
	{Keywords: []string{"total", "sales"}, SQL: "SELECT SUM(amount) AS total_sales FROM orders"},
	{Keywords: []string{"count", "order"}, SQL: "SELECT COUNT(*) AS order_count FROM orders"},
	{Keywords: []string{"recent", "order"}, SQL: "SELECT id, customer_id, amount, ordered_at FROM orders ORDER BY ordered_at DESC LIMIT 20"},
	{Keywords: []string{"customer"}, SQL: "SELECT id, name, region FROM customers ORDER BY id LIMIT 1000"},
}

type keywordTranslator struct {
	rules  []KeywordRule
	logger *zap.Logger
}

// NewKeywordTranslator creates the deterministic demo translator.
// It ignores the schema and dialect and never calls a language model.
func NewKeywordTranslator(rules []KeywordRule, logger *zap.Logger) Translator {
	if len(rules) == 0 {
		rules = DefaultKeywordRules
	}
	return &keywordTranslator{rules: rules, logger: logger.Named("keyword-translator")}
}

var _ Translator = (*keywordTranslator)(nil)

func (t *keywordTranslator) Strategy() Strategy { return StrategyKeyword }

func (t *keywordTranslator) Translate(ctx context.Context, question, schemaText string, dialect datasource.Dialect) (string, error) {
	lower := strings.ToLower(question)

	for _, rule := range t.rules {
		matched := true
		for _, kw := range rule.Keywords {
			if !strings.Contains(lower, kw) {
				matched = false
				break
			}
		}
		if matched {
			t.logger.Debug("Keyword rule matched", zap.Strings("keywords", rule.Keywords))
			return rule.SQL, nil
		}
	}
	return "", apperrors.ErrNoSQLGenerated
}
