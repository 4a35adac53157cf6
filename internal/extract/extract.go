package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Field identifies one extracted delivery note field
type Field int

const (
	Supplier Field = iota
	Reference
	Date
	ProductCode
	Quantity
)

// String returns the field name as used in JSON
func (f Field) String() string {
	switch f {
	case Supplier:
		return "supplier"
	case Reference:
		return "reference"
	case Date:
		return "date"
	case ProductCode:
		return "productCode"
	case Quantity:
		return "quantity"
	default:
		return "unknown"
	}
}

// Fields contains the values extracted from OCR text.
// An empty string means the field was not found.
type Fields struct {
	Supplier    string `json:"supplier"`
	Reference   string `json:"reference"`
	Date        string `json:"date"`
	ProductCode string `json:"productCode"`
	Quantity    string `json:"quantity"`
}

// get returns the value stored for f
func (fs *Fields) get(f Field) string {
	switch f {
	case Supplier:
		return fs.Supplier
	case Reference:
		return fs.Reference
	case Date:
		return fs.Date
	case ProductCode:
		return fs.ProductCode
	case Quantity:
		return fs.Quantity
	}
	return ""
}

// set stores value for f
func (fs *Fields) set(f Field, value string) {
	switch f {
	case Supplier:
		fs.Supplier = value
	case Reference:
		fs.Reference = value
	case Date:
		fs.Date = value
	case ProductCode:
		fs.ProductCode = value
	case Quantity:
		fs.Quantity = value
	}
}

// Rule matches one field against the whole text.
// Group selects the capture group holding the value.
type Rule struct {
	Field   Field
	Pattern *regexp.Regexp
	Group   int
}

// DefaultRules is the label-driven rule set for delivery notes.
// The first match of each pattern wins. Label separators accept Unicode
// spaces (OCR output often carries NBSP) besides ASCII whitespace.
var DefaultRules = []Rule{
	{Field: Supplier, Pattern: regexp.MustCompile(`(?i)(?:Supplier|From|Vendor):[\s\p{Zs}]*(.*)`), Group: 1},
	{Field: Reference, Pattern: regexp.MustCompile(`(?i)(?:Delivery Note|DN|Ref)[:.]?[\s\p{Zs}]*([A-Z0-9-]+)`), Group: 1},
	{Field: Date, Pattern: regexp.MustCompile(`(\d{2}[-/]\d{2}[-/]\d{4})`), Group: 1},
	{Field: ProductCode, Pattern: regexp.MustCompile(`(?i)(?:SKU|Code|Product)[:.]?[\s\p{Zs}]*([A-Z0-9-]+)`), Group: 1},
	{Field: Quantity, Pattern: regexp.MustCompile(`(?i)(?:Qty|Quantity)[:.]?[\s\p{Zs}]*(\d+)`), Group: 1},
}

// headerKeywords disqualifies a line from being taken as the supplier name
var headerKeywords = regexp.MustCompile(`(?i)delivery|invoice|date`)

// minSupplierLen is the trimmed length a line must exceed to be a supplier candidate
const minSupplierLen = 3

// Extractor applies a rule table to OCR text
type Extractor struct {
	rules []Rule
}

// New creates an Extractor. With no rules it uses DefaultRules.
func New(rules ...Rule) *Extractor {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Extractor{rules: rules}
}

var defaultExtractor = New()

// Extract runs the default rule set over text
func Extract(text string) Fields {
	return defaultExtractor.Extract(text)
}

// Extract evaluates every rule independently; a miss leaves the field empty.
// When no supplier label matched, the first prominent line is used instead.
func (e *Extractor) Extract(text string) Fields {
	var fields Fields

	for _, rule := range e.rules {
		if fields.get(rule.Field) != "" {
			continue
		}
		m := rule.Pattern.FindStringSubmatch(text)
		if m == nil || rule.Group >= len(m) {
			continue
		}
		fields.set(rule.Field, strings.TrimSpace(m[rule.Group]))
	}

	if fields.Supplier == "" {
		fields.Supplier = guessSupplier(text)
	}

	return fields
}

// guessSupplier returns the first line that looks like a company name.
// Scanned notes usually print the vendor unlabelled at the top.
func guessSupplier(text string) string {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if utf8.RuneCountInString(trimmed) <= minSupplierLen {
			continue
		}
		if headerKeywords.MatchString(trimmed) {
			continue
		}
		return trimmed
	}
	return ""
}
