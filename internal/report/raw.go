package report

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"
)

// RawReport is the provider payload after boundary parsing. Every field is
// optional; absent or mistyped input leaves the zero value.
type RawReport struct {
	FetchTime    string
	Categories   map[Category]RawCategory
	Audits       map[string]RawAudit
	FieldMetrics map[string]float64 // loadingExperience percentile by metric key
}

// RawCategory is one entry of lighthouseResult.categories.
type RawCategory struct {
	Score     *float64
	AuditRefs []RawAuditRef
}

// RawAuditRef links a category to an audit with a scoring weight.
type RawAuditRef struct {
	ID     string
	Weight float64
	Group  string
}

// RawAudit is one entry of lighthouseResult.audits.
type RawAudit struct {
	ID           string
	Title        string
	Description  string
	Score        *float64
	DisplayValue string
	NumericValue *float64
	Details      *RawDetails
}

// RawDetails is an audit's details payload.
type RawDetails struct {
	Type                string
	Headings            []DetailHeading
	Items               []map[string]Value
	OverallSavingsMs    *float64
	OverallSavingsBytes *float64
	Data                string // final-screenshot data URI
}

// ValueKind tags the shape of a detail cell.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindObject
	KindOther // arrays and booleans
)

// Value is a detail table cell as the provider sent it.
type Value struct {
	Kind   ValueKind
	String string
	Number float64
	Fields map[string]Value // KindObject only
	JSON   string           // compact JSON for KindObject and KindOther
}

// Field metric keys read from loadingExperience.metrics.
const (
	FieldINP             = "INTERACTION_TO_NEXT_PAINT"
	FieldExperimentalINP = "EXPERIMENTAL_INTERACTION_TO_NEXT_PAINT"
)

// ParseRaw decodes a PageSpeed Insights response. It never fails: invalid
// JSON or a non-object document yields an empty RawReport.
func ParseRaw(raw []byte) RawReport {
	out := RawReport{
		Categories:   map[Category]RawCategory{},
		Audits:       map[string]RawAudit{},
		FieldMetrics: map[string]float64{},
	}
	if !gjson.ValidBytes(raw) {
		return out
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return out
	}

	lh := root.Get("lighthouseResult")
	if ts := lh.Get("fetchTime"); ts.Type == gjson.String {
		out.FetchTime = ts.Str
	} else if ts := root.Get("analysisUTCTimestamp"); ts.Type == gjson.String {
		out.FetchTime = ts.Str
	}

	cats := lh.Get("categories")
	if cats.IsObject() {
		cats.ForEach(func(key, value gjson.Result) bool {
			c, ok := ParseCategory(key.String())
			if !ok || !value.IsObject() {
				return true
			}
			out.Categories[c] = parseCategory(value)
			return true
		})
	}

	audits := lh.Get("audits")
	if audits.IsObject() {
		audits.ForEach(func(key, value gjson.Result) bool {
			if value.IsObject() {
				out.Audits[key.String()] = parseAudit(key.String(), value)
			}
			return true
		})
	}

	metrics := root.Get("loadingExperience.metrics")
	if metrics.IsObject() {
		metrics.ForEach(func(key, value gjson.Result) bool {
			if p := number(value.Get("percentile")); p != nil {
				out.FieldMetrics[key.String()] = *p
			}
			return true
		})
	}

	return out
}

func parseCategory(v gjson.Result) RawCategory {
	c := RawCategory{Score: number(v.Get("score"))}
	refs := v.Get("auditRefs")
	if !refs.IsArray() {
		return c
	}
	for _, r := range refs.Array() {
		if !r.IsObject() {
			continue
		}
		id := str(r.Get("id"))
		if id == "" {
			continue
		}
		ref := RawAuditRef{ID: id, Group: str(r.Get("group"))}
		if w := number(r.Get("weight")); w != nil {
			ref.Weight = *w
		}
		c.AuditRefs = append(c.AuditRefs, ref)
	}
	return c
}

func parseAudit(key string, v gjson.Result) RawAudit {
	a := RawAudit{
		ID:           str(v.Get("id")),
		Title:        str(v.Get("title")),
		Description:  str(v.Get("description")),
		Score:        number(v.Get("score")),
		DisplayValue: str(v.Get("displayValue")),
		NumericValue: number(v.Get("numericValue")),
	}
	if a.ID == "" {
		a.ID = key
	}
	if d := v.Get("details"); d.IsObject() {
		a.Details = parseDetails(d)
	}
	return a
}

func parseDetails(v gjson.Result) *RawDetails {
	d := &RawDetails{
		Type:                str(v.Get("type")),
		OverallSavingsMs:    number(v.Get("overallSavingsMs")),
		OverallSavingsBytes: number(v.Get("overallSavingsBytes")),
		Data:                str(v.Get("data")),
	}
	if hs := v.Get("headings"); hs.IsArray() {
		for _, h := range hs.Array() {
			if !h.IsObject() {
				continue
			}
			label := str(h.Get("label"))
			if label == "" {
				label = str(h.Get("text"))
			}
			d.Headings = append(d.Headings, DetailHeading{
				Key:       str(h.Get("key")),
				Label:     label,
				ValueType: str(h.Get("valueType")),
			})
		}
	}
	if items := v.Get("items"); items.IsArray() {
		for _, it := range items.Array() {
			if !it.IsObject() {
				continue
			}
			row := map[string]Value{}
			it.ForEach(func(key, value gjson.Result) bool {
				row[key.String()] = toValue(value)
				return true
			})
			d.Items = append(d.Items, row)
		}
	}
	return d
}

func toValue(v gjson.Result) Value {
	switch v.Type {
	case gjson.Null:
		return Value{Kind: KindNull}
	case gjson.String:
		return Value{Kind: KindString, String: v.Str}
	case gjson.Number:
		return Value{Kind: KindNumber, Number: v.Num}
	}
	if v.IsObject() {
		fields := map[string]Value{}
		v.ForEach(func(key, value gjson.Result) bool {
			fields[key.String()] = toValue(value)
			return true
		})
		return Value{Kind: KindObject, Fields: fields, JSON: compact(v.Raw)}
	}
	return Value{Kind: KindOther, JSON: compact(v.Raw)}
}

func compact(raw string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return raw
	}
	return buf.String()
}

func number(v gjson.Result) *float64 {
	if v.Type != gjson.Number {
		return nil
	}
	n := v.Num
	return &n
}

func str(v gjson.Result) string {
	if v.Type != gjson.String {
		return ""
	}
	return v.Str
}
