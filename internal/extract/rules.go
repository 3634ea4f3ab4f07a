package extract

import "github.com/JakeFAU/registry-graph-crawler/internal/crawler"

// transform tags the normalization applied to a row's tokens.
type transform int

const (
	// transformVerbatim keeps the second token as is.
	transformVerbatim transform = iota
	// transformVATLookup ignores the row and asks the VAT endpoint.
	transformVATLookup
	// transformDate reorders DD/MM/YYYY into YYYY-MM-DD.
	transformDate
	// transformFirstLine cuts the value at the first newline.
	transformFirstLine
	// transformInnerTokens drops the label echo and the footer token.
	transformInnerTokens
	// transformJoinedTail joins the tokens after the first two.
	transformJoinedTail
	// transformEmployees extracts the count between "label: " and " (".
	transformEmployees
	// transformIncome keeps the amount before " (".
	transformIncome
)

type fieldRule struct {
	field     crawler.Field
	transform transform
}

// labelTable maps the registry's row labels (colons removed) to record
// fields. Labels not listed here are ignored.
var labelTable = map[string]fieldRule{
	"Business name":           {field: crawler.FieldName, transform: transformVerbatim},
	"Register code":           {field: crawler.FieldRC, transform: transformVerbatim},
	"Operating address":       {field: crawler.FieldOpAddress, transform: transformVerbatim},
	"Legal address":           {field: crawler.FieldLegalAddress, transform: transformVerbatim},
	"VAT No":                  {field: crawler.FieldVATNo, transform: transformVATLookup},
	"Founded":                 {field: crawler.FieldFounded, transform: transformDate},
	"Capital":                 {field: crawler.FieldCapital, transform: transformVerbatim},
	"Phone":                   {field: crawler.FieldPhone, transform: transformVerbatim},
	"E-mail":                  {field: crawler.FieldEmail, transform: transformVerbatim},
	"Representatives":         {field: crawler.FieldRepresentatives, transform: transformInnerTokens},
	"Main activity":           {field: crawler.FieldActivity, transform: transformFirstLine},
	"Taxes paid":              {field: crawler.FieldTaxes, transform: transformJoinedTail},
	"The number of employees": {field: crawler.FieldEmployees, transform: transformEmployees},
	"VAT Liable Income":       {field: crawler.FieldVATIncome, transform: transformIncome},
}

// lookupRule resolves a raw label token.
func lookupRule(label string) (fieldRule, bool) {
	rule, ok := labelTable[normalizeLabel(label)]
	return rule, ok
}
