// Package extract turns a registry company page into a crawler.CompanyRecord.
//
// Pages are parsed with htmlquery. Each row of the company-info table is
// reduced to its non-empty text tokens; the first token is the label and
// selects a normalization rule from a fixed table.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/registry-graph-crawler/internal/crawler"
	"github.com/JakeFAU/registry-graph-crawler/internal/logging"
)

const (
	// deletedXPath matches a visible alert banner or the explicit
	// "Company is deleted" paragraph.
	deletedXPath = "//div[contains(@class, 'alert') and not(contains(translate(@style, ' ', ''), 'display:none'))]" +
		" | //p[normalize-space(text())='Company is deleted']"
	rowXPath   = "//table[contains(@class, 'table-company-info')]//tr"
	tokenXPath = ".//td//text()"
)

// Extractor implements crawler.Extractor.
type Extractor struct {
	vat    VATResolver
	logger *zap.Logger
}

var _ crawler.Extractor = (*Extractor)(nil)

// New builds an Extractor. A nil resolver records every VAT number as null.
func New(vat VATResolver, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{vat: vat, logger: logger}
}

// Extract parses document. It returns (nil, false, nil) when the page marks
// the company as missing or deleted, or has no recognized company rows.
func (e *Extractor) Extract(ctx context.Context, document []byte, id crawler.Identifier) (*crawler.CompanyRecord, bool, error) {
	doc, err := htmlquery.Parse(bytes.NewReader(document))
	if err != nil {
		return nil, false, fmt.Errorf("parse company page %s: %w", id, err)
	}

	deleted, err := isDeleted(doc)
	if err != nil {
		return nil, false, err
	}
	if deleted {
		return nil, false, nil
	}

	rows, err := htmlquery.QueryAll(doc, rowXPath)
	if err != nil {
		return nil, false, fmt.Errorf("query company rows: %w", err)
	}

	record := crawler.NewCompanyRecord(id)
	matched := 0
	for _, row := range rows {
		tokens, err := rowTokens(row)
		if err != nil {
			return nil, false, err
		}
		if len(tokens) == 0 {
			continue
		}
		rule, ok := lookupRule(tokens[0])
		if !ok {
			continue
		}
		matched++
		e.apply(ctx, record, rule, tokens)
	}
	// Login and maintenance pages have no company rows and are not records.
	if matched == 0 {
		e.logger.Debug("no company rows on page", logging.RC(id))
		return nil, false, nil
	}

	if page := record.Fields[crawler.FieldRC]; page != "" && page != id.String() {
		e.logger.Debug("page register code differs from identifier",
			logging.RC(id), zap.String("page_rc", page))
	}
	record.Fields[crawler.FieldRC] = id.String()
	return record, true, nil
}

func (e *Extractor) apply(ctx context.Context, record *crawler.CompanyRecord, rule fieldRule, tokens []string) {
	switch rule.transform {
	case transformVATLookup:
		record.Fields[rule.field] = e.resolveVAT(ctx, record.RC)
		return
	case transformInnerTokens:
		record.Representatives = Representatives(tokens)
		return
	case transformJoinedTail:
		if len(tokens) < 2 {
			return
		}
		record.Fields[rule.field] = Taxes(tokens)
		return
	}

	if len(tokens) < 2 {
		e.logger.Debug("row without value", logging.RC(record.RC), zap.String("field", string(rule.field)))
		return
	}
	raw := tokens[1]
	var value string
	switch rule.transform {
	case transformDate:
		value = NormalizeFounded(raw)
	case transformFirstLine:
		value = FirstLine(raw)
	case transformEmployees:
		value = EmployeeCount(raw)
	case transformIncome:
		value = VATIncome(raw)
	default:
		value = raw
	}
	record.Fields[rule.field] = value
}

func (e *Extractor) resolveVAT(ctx context.Context, id crawler.Identifier) string {
	if e.vat == nil {
		return crawler.Null
	}
	return e.vat.ResolveVAT(ctx, id)
}

func isDeleted(doc *html.Node) (bool, error) {
	node, err := htmlquery.Query(doc, deletedXPath)
	if err != nil {
		return false, fmt.Errorf("query deleted marker: %w", err)
	}
	return node != nil, nil
}

// rowTokens returns the stripped, non-empty text fragments of a row's cells
// in document order.
func rowTokens(row *html.Node) ([]string, error) {
	nodes, err := htmlquery.QueryAll(row, tokenXPath)
	if err != nil {
		return nil, fmt.Errorf("query row text: %w", err)
	}
	tokens := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if text := strings.TrimSpace(n.Data); text != "" {
			tokens = append(tokens, text)
		}
	}
	return tokens, nil
}
