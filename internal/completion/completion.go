// Package completion asks a chat model for invoice fields the rule-based
// extractor could not find. A suggested value is only accepted when it occurs
// in the document text; everything else stays a gap.
package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"invoicexl/internal/logger"
	"invoicexl/internal/ruleset"
	"invoicexl/pkg/models"
)

// RuleName is the provenance rule recorded for completed fields.
const RuleName = "completion.llm"

// completable lists the fields the model may fill, in prompt order.
var completable = []models.Field{
	models.FieldInvoiceNumber,
	models.FieldCompanyName,
	models.FieldTaxID,
}

// Config configures the completion service
type Config struct {
	Model       string  // e.g. gpt-4o-mini
	MaxRetries  int     // chat completion attempts
	Temperature float32 // sampling temperature
}

// Completer fills extraction gaps with evidence-checked model suggestions.
type Completer struct {
	client *openai.Client
	rules  *ruleset.Rules
	config Config
	log    zerolog.Logger
}

// NewCompleter creates a Completer for the OpenAI API.
func NewCompleter(apiKey string, rules *ruleset.Rules, config Config) (*Completer, error) {
	const op = "NewCompleter"
	if apiKey == "" {
		return nil, fmt.Errorf("%s: OPENAI_API_KEY is required", op)
	}
	return NewCompleterWithClient(openai.NewClient(apiKey), rules, config), nil
}

// NewCompleterWithClient creates a Completer with an explicit client (for testing).
func NewCompleterWithClient(client *openai.Client, rules *ruleset.Rules, config Config) *Completer {
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	return &Completer{
		client: client,
		rules:  rules,
		config: config,
		log:    logger.WithComponent("completion"),
	}
}

// Complete asks for the record's missing string fields and writes back the
// values found verbatim in lines. It returns the fields it filled.
func (c *Completer) Complete(ctx context.Context, rec *models.InvoiceRecord, lines []string) ([]models.Field, error) {
	const op = "Complete"

	var missing []models.Field
	for _, f := range completable {
		if rec.HasGap(f) {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 || len(lines) == 0 {
		return nil, nil
	}

	suggestions, err := c.ask(ctx, rec, missing, lines)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var filled []models.Field
	for _, f := range missing {
		value := strings.TrimSpace(suggestions[string(f)])
		if value == "" {
			continue
		}
		found, line, ok := findEvidence(lines, value)
		if !ok {
			c.log.Debug().
				Str("file", rec.Filename).
				Str("field", string(f)).
				Str("value", value).
				Msg("Rejected suggestion without evidence in text")
			continue
		}
		if !c.accept(rec, f, found) {
			continue
		}
		if rec.Provenance == nil {
			rec.Provenance = make(map[models.Field]models.Evidence)
		}
		rec.Provenance[f] = models.Evidence{Rule: RuleName, Line: line}
		filled = append(filled, f)
	}

	if len(filled) > 0 {
		rec.Gaps = removeFields(rec.Gaps, filled)
		c.log.Info().
			Str("file", rec.Filename).
			Int("filled", len(filled)).
			Msg("Completed extraction gaps")
	}
	return filled, nil
}

// accept applies the same acceptance rules the extractor uses and stores the value.
func (c *Completer) accept(rec *models.InvoiceRecord, f models.Field, value string) bool {
	switch f {
	case models.FieldInvoiceNumber:
		if !strings.ContainsAny(value, "0123456789") {
			return false
		}
		rec.InvoiceNumber = &value
	case models.FieldCompanyName:
		if c.rules.IsOwnCompany(value) {
			return false
		}
		rec.CompanyName = &value
	case models.FieldTaxID:
		value = strings.ToUpper(value)
		if !c.rules.TaxIDConforms(value) || c.rules.IsOwnTaxID(value) {
			return false
		}
		rec.TaxID = &value
	default:
		return false
	}
	return true
}

// ask sends the prompt, retrying failed calls and unparseable answers.
func (c *Completer) ask(ctx context.Context, rec *models.InvoiceRecord, missing []models.Field, lines []string) (map[string]string, error) {
	prompt := c.buildPrompt(rec, missing, lines)

	var lastErr error
	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.config.Model,
			Temperature: c.config.Temperature,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: c.systemPrompt()},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			MaxTokens: 300,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			c.log.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_retries", c.config.MaxRetries).
				Msg("Chat completion failed, retrying")
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("no response choices")
			continue
		}

		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &raw); err != nil {
			lastErr = fmt.Errorf("failed to parse JSON response: %w", err)
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("Unparseable completion, retrying")
			continue
		}

		out := make(map[string]string, len(missing))
		for _, f := range missing {
			out[string(f)] = getString(raw, string(f))
		}
		return out, nil
	}
	return nil, fmt.Errorf("all %d attempts failed, last error: %w", c.config.MaxRetries, lastErr)
}

func (c *Completer) systemPrompt() string {
	return fmt.Sprintf(`You read OCR text of %s invoices and copy field values out of it.
Copy every value exactly as it is written in the text. Never compute, translate or guess a value.
If a field is not present in the text, return null for it.
The %s identifies the counterparty, never the issuer's own company.
Return ONLY a JSON object.`, c.rules.Name, c.rules.TaxIDName)
}

func (c *Completer) buildPrompt(rec *models.InvoiceRecord, missing []models.Field, lines []string) string {
	var b strings.Builder

	party := "supplier (the company that issued this invoice to us)"
	if rec.Class == models.ClassSales {
		party = "customer (the company we billed)"
	}

	b.WriteString("Find these fields:\n")
	for _, f := range missing {
		switch f {
		case models.FieldInvoiceNumber:
			b.WriteString(`  "invoice_number": the invoice or bill number` + "\n")
		case models.FieldCompanyName:
			fmt.Fprintf(&b, "  \"company_name\": the name of the %s\n", party)
		case models.FieldTaxID:
			fmt.Fprintf(&b, "  \"tax_id\": the %s of the %s\n", c.rules.TaxIDName, party)
		}
	}

	b.WriteString("\nOCR Text:\n")
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}

// findEvidence looks for value in lines, ignoring case, and returns the text
// as written with its 1-based line number.
func findEvidence(lines []string, value string) (string, int, bool) {
	re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(value))
	if err != nil {
		return "", 0, false
	}
	for i, line := range lines {
		if found := re.FindString(line); found != "" {
			return found, i + 1, true
		}
	}
	return "", 0, false
}

func removeFields(gaps, filled []models.Field) []models.Field {
	out := gaps[:0:0]
	for _, g := range gaps {
		keep := true
		for _, f := range filled {
			if g == f {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, g)
		}
	}
	return out
}

func getString(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%v", v)
	}
	return ""
}
