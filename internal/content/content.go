package content

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/tradestreet/internal/company"
	"github.com/atmx/tradestreet/internal/metrics"
	"github.com/atmx/tradestreet/internal/model"
)

// Sectors the generator is asked to choose from.
var Sectors = []string{
	"Technology",
	"Healthcare",
	"Finance",
	"Energy",
	"Consumer Goods",
	"Industrial",
	"Real Estate",
	"Telecommunications",
}

// ExtractArray returns the outermost JSON array embedded in text: from the
// first '[' to the last ']'.
func ExtractArray(text string) (string, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return "", fmt.Errorf("%w: no JSON array in reply", ErrGenerationFailure)
	}
	return text[start : end+1], nil
}

// companyRecord mirrors the generator's company schema. Numbers arrive as
// JSON numbers, so they are decoded loosely and validated afterwards.
type companyRecord struct {
	Ticker      string          `json:"ticker"`
	Name        string          `json:"name"`
	Sector      string          `json:"sector"`
	Risk        float64         `json:"risk"`
	Volatility  float64         `json:"volatility"`
	BasePrice   decimal.Decimal `json:"basePrice"`
	Description string          `json:"description"`
}

type newsRecord struct {
	Ticker    string  `json:"ticker"`
	Headline  string  `json:"headline"`
	Body      string  `json:"body"`
	Sentiment float64 `json:"sentiment"`
	Magnitude float64 `json:"magnitude"`
}

// ParseCompanies extracts and validates company records. Invalid records and
// repeated tickers are dropped; an error is returned only when nothing
// usable remains.
func ParseCompanies(text string) ([]model.Company, error) {
	raw, err := ExtractArray(text)
	if err != nil {
		return nil, err
	}
	var records []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailure, err)
	}

	seen := make(map[string]bool)
	var out []model.Company
	for _, r := range records {
		var rec companyRecord
		if err := json.Unmarshal(r, &rec); err != nil {
			continue
		}
		c, err := company.Sanitize(model.Company{
			Ticker:      rec.Ticker,
			Name:        rec.Name,
			Sector:      rec.Sector,
			Risk:        rec.Risk,
			Volatility:  rec.Volatility,
			BasePrice:   rec.BasePrice,
			Description: strings.TrimSpace(rec.Description),
		})
		if err != nil || seen[c.Ticker] {
			continue
		}
		seen[c.Ticker] = true
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no valid company records", ErrGenerationFailure)
	}
	return out, nil
}

// ParseNews extracts and validates news records for the known tickers,
// stamping each with now.
func ParseNews(text string, known map[string]bool, now time.Time) ([]model.NewsEvent, error) {
	raw, err := ExtractArray(text)
	if err != nil {
		return nil, err
	}
	var records []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailure, err)
	}

	var out []model.NewsEvent
	for _, r := range records {
		var rec newsRecord
		if err := json.Unmarshal(r, &rec); err != nil {
			continue
		}
		n, err := company.SanitizeNews(model.NewsEvent{
			Ticker:    rec.Ticker,
			Headline:  strings.TrimSpace(rec.Headline),
			Body:      strings.TrimSpace(rec.Body),
			Sentiment: rec.Sentiment,
			Magnitude: rec.Magnitude,
			Timestamp: now,
		}, known)
		if err != nil || n.Headline == "" {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Companies asks gen for count companies. Any failure falls back to the
// built-in list.
func Companies(ctx context.Context, gen Generator, count int) []model.Company {
	if count <= 0 {
		count = len(DefaultCompanies())
	}

	companies, err := generateCompanies(ctx, gen, count)
	if err != nil {
		metrics.GenerationFallbacks.WithLabelValues("companies").Inc()
		slog.Warn("company generation failed, using defaults", "err", err)
		return truncate(DefaultCompanies(), count)
	}
	return truncate(companies, count)
}

func generateCompanies(ctx context.Context, gen Generator, count int) ([]model.Company, error) {
	if gen == nil {
		return nil, fmt.Errorf("%w: no generator configured", ErrGenerationFailure)
	}
	reply, err := gen.Generate(ctx, companiesPrompt(count))
	if err != nil {
		return nil, err
	}
	return ParseCompanies(reply)
}

// News asks gen for count news events about companies. Any failure yields
// an empty batch; the market keeps running without news.
func News(ctx context.Context, gen Generator, companies []model.Company, count int, now time.Time) []model.NewsEvent {
	if gen == nil || len(companies) == 0 || count <= 0 {
		return nil
	}

	reply, err := gen.Generate(ctx, newsPrompt(companies, count))
	if err == nil {
		var news []model.NewsEvent
		news, err = ParseNews(reply, company.Index(companies), now)
		if err == nil {
			if len(news) > count {
				news = news[:count]
			}
			return news
		}
	}

	metrics.GenerationFallbacks.WithLabelValues("news").Inc()
	slog.Warn("news generation failed, skipping round", "err", err)
	return nil
}

func truncate(companies []model.Company, count int) []model.Company {
	if len(companies) > count {
		return companies[:count]
	}
	return companies
}

func companiesPrompt(count int) string {
	return fmt.Sprintf(`Generate %d fictional companies for a synthetic stock market.
For each company, provide:
- ticker: A 2-4 letter stock symbol (e.g., "TECH", "MEDI", "FINX")
- name: Full company name
- sector: One of: %s
- risk: A number between 0 and 1 (0 = low risk, 1 = high risk)
- volatility: A number between 0 and 1 (0 = stable, 1 = highly volatile)
- basePrice: A realistic stock price between $10 and $500
- description: A 1-2 sentence description of what the company does

Return ONLY a valid JSON array of objects with these exact fields. No markdown, no code blocks, just the JSON array.`,
		count, strings.Join(Sectors, ", "))
}

func newsPrompt(companies []model.Company, count int) string {
	names := make([]string, len(companies))
	for i, c := range companies {
		names[i] = fmt.Sprintf("%s (%s - %s)", c.Ticker, c.Name, c.Sector)
	}
	return fmt.Sprintf(`Generate %d realistic news events for these companies: %s

For each news event, provide:
- ticker: The stock ticker symbol of the affected company
- headline: A compelling news headline (max 80 characters)
- body: A 1-2 sentence news story explaining the event
- sentiment: A number between -1 and +1 (-1 = very negative, 0 = neutral, +1 = very positive)
- magnitude: A number between 0 and 1 (0 = minor impact, 1 = major impact)

Include both positive and negative events.

Return ONLY a valid JSON array of objects with these exact fields. No markdown, no code blocks, just the JSON array.`,
		count, strings.Join(names, ", "))
}
