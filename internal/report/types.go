package report

// Strategy selects the device profile the provider emulates.
type Strategy string

const (
	StrategyMobile  Strategy = "mobile"
	StrategyDesktop Strategy = "desktop"
)

// ParseStrategy validates s. An empty string is not a valid strategy;
// callers that want a default must apply it themselves.
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(s) {
	case StrategyMobile, StrategyDesktop:
		return Strategy(s), true
	}
	return "", false
}

// Category is one of the four scored audit dimensions.
type Category string

const (
	CategoryPerformance   Category = "performance"
	CategoryAccessibility Category = "accessibility"
	CategoryBestPractices Category = "best-practices"
	CategorySEO           Category = "seo"
)

// Categories lists every category in evaluation order. Audit deduplication
// keeps the first occurrence in this order.
var Categories = []Category{
	CategoryPerformance,
	CategoryAccessibility,
	CategoryBestPractices,
	CategorySEO,
}

// ParseCategory validates s against the known categories.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Impact is the importance tier computed for a failing audit.
type Impact string

const (
	ImpactHigh   Impact = "high"
	ImpactMedium Impact = "medium"
	ImpactLow    Impact = "low"
)

// Rank orders impacts for sorting: high < medium < low.
func (i Impact) Rank() int {
	switch i {
	case ImpactHigh:
		return 0
	case ImpactMedium:
		return 1
	default:
		return 2
	}
}

// Scores holds the 0-100 category scores.
type Scores struct {
	Performance   int `json:"performance"`
	Accessibility int `json:"accessibility"`
	BestPractices int `json:"best-practices"`
	SEO           int `json:"seo"`
}

// Get returns the score for c, or 0 for an unknown category.
func (s Scores) Get(c Category) int {
	switch c {
	case CategoryPerformance:
		return s.Performance
	case CategoryAccessibility:
		return s.Accessibility
	case CategoryBestPractices:
		return s.BestPractices
	case CategorySEO:
		return s.SEO
	}
	return 0
}

func (s *Scores) set(c Category, v int) {
	switch c {
	case CategoryPerformance:
		s.Performance = v
	case CategoryAccessibility:
		s.Accessibility = v
	case CategoryBestPractices:
		s.BestPractices = v
	case CategorySEO:
		s.SEO = v
	}
}

// WebVitals is the LCP/INP/CLS triple. A nil pointer means the provider
// reported no value.
type WebVitals struct {
	LCP *float64 `json:"lcp"` // ms
	INP *float64 `json:"inp"` // ms
	CLS *float64 `json:"cls"` // unitless
}

// DetailHeading describes one column of a flattened audit detail table.
type DetailHeading struct {
	Key       string `json:"key"`
	Label     string `json:"label"`
	ValueType string `json:"valueType,omitempty"`
}

// DetailRow maps a heading key to a string, float64, or nil.
type DetailRow map[string]any

// AuditDetails is the optional table attached to an audit.
type AuditDetails struct {
	Headings            []DetailHeading `json:"headings"`
	Items               []DetailRow     `json:"items"`
	OverallSavingsMs    *float64        `json:"overallSavingsMs,omitempty"`
	OverallSavingsBytes *float64        `json:"overallSavingsBytes,omitempty"`
}

// Audit is one failing, applicable improvement suggestion.
type Audit struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Score        *float64      `json:"score"`
	DisplayValue string        `json:"displayValue,omitempty"`
	Category     Category      `json:"category"`
	Impact       Impact        `json:"impact"`
	Details      *AuditDetails `json:"details,omitempty"`
}

// AnalysisResult is one normalized snapshot of a URL.
type AnalysisResult struct {
	URL        string    `json:"url"`
	Strategy   Strategy  `json:"strategy"`
	FetchedAt  string    `json:"fetchedAt"`
	Scores     Scores    `json:"scores"`
	WebVitals  WebVitals `json:"webVitals"`
	Audits     []Audit   `json:"audits"`
	Screenshot string    `json:"screenshot,omitempty"`
}
