// Package template compiles Handlebars template sources and caches the
// compiled form per owner and template.
package template

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/aymerick/raymond"
)

// ErrInvalidTemplate wraps every compile and execution failure.
var ErrInvalidTemplate = errors.New("invalid template")

// Compiled is a parsed template with the document helpers registered.
// It is safe for concurrent use.
type Compiled struct {
	tpl *raymond.Template
}

// Compile parses source and registers the document helpers on it.
func Compile(source string) (*Compiled, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("%w: empty source", ErrInvalidTemplate)
	}
	tpl, err := raymond.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	tpl.RegisterHelpers(map[string]interface{}{
		"ifEq":           ifEq,
		"gt":             gt,
		"formatDate":     formatDate,
		"formatCurrency": formatCurrency,
	})
	return &Compiled{tpl: tpl}, nil
}

// Execute renders the template against one data record.
func (c *Compiled) Execute(data map[string]any) (string, error) {
	out, err := c.tpl.Exec(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	return out, nil
}

func ifEq(a, b interface{}, options *raymond.Options) interface{} {
	if looseEqual(a, b) {
		return options.Fn()
	}
	return options.Inverse()
}

func gt(a, b interface{}, options *raymond.Options) interface{} {
	if greater(a, b) {
		return options.Fn()
	}
	return options.Inverse()
}

func greater(a, b interface{}) bool {
	x, okA := toFloat(a)
	y, okB := toFloat(b)
	if okA && okB {
		return x > y
	}
	return fmt.Sprint(a) > fmt.Sprint(b)
}

// formatDate renders a date as M/D/YYYY. It accepts RFC 3339 strings,
// plain dates and millisecond epochs.
func formatDate(v interface{}) string {
	if v == nil {
		return ""
	}
	if ms, ok := toFloat(v); ok {
		return time.UnixMilli(int64(ms)).UTC().Format("1/2/2006")
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return ""
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("1/2/2006")
		}
	}
	return s
}

// formatCurrency renders a number as US dollars, e.g. $1,234.50.
func formatCurrency(v interface{}) string {
	amount, ok := toFloat(v)
	if !ok {
		return fmt.Sprint(v)
	}
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	cents := int64(math.Round(amount * 100))
	whole := strconv.FormatInt(cents/100, 10)

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("%s$%s.%02d", sign, b.String(), cents%100)
}

func looseEqual(a, b interface{}) bool {
	x, okA := toFloat(a)
	y, okB := toFloat(b)
	if okA && okB {
		return x == y
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
