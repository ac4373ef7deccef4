package templating

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

// DateFullLayout is the layout used by dateFull.
const DateFullLayout = "02-01-2006 15:04:05"

var (
	ugcPolicy = bluemonday.UGCPolicy()
	markdown  = goldmark.New()
)

func (tm *TemplateManager) makeFuncMap() template.FuncMap {
	return template.FuncMap{
		// Formatters
		"euros":    euros,
		"price":    Price,
		"dateFull": dateFull,
		"markdown": markdownHTML,
		"sanitize": sanitize,
		"raw":      raw,

		// Helpers
		"isSet":   isSet,
		"default": fallback,
	}
}

// euros formats number as a price in euros with French separators.
func euros(number float64) string {
	return Price(number, " €", 2, ",", " ")
}

// Price formats number with the given decimal precision and separators, then
// appends sigle. Separators must be a single character other than '#', '0'
// and '+'; anything else falls back to "." and ",".
func Price(number float64, sigle string, decimals int, decPoint, thousandsSep string) string {
	if decimals < 0 {
		decimals = 0
	} else if decimals > 9 {
		decimals = 9
	}
	if !validSeparator(decPoint) {
		decPoint = "."
	}
	if !validSeparator(thousandsSep) || thousandsSep == decPoint {
		thousandsSep = ","
		if decPoint == "," {
			thousandsSep = "."
		}
	}
	format := "#" + thousandsSep + "###" + decPoint + strings.Repeat("#", decimals)
	return humanize.FormatFloat(format, number) + sigle
}

func validSeparator(s string) bool {
	if utf8.RuneCountInString(s) != 1 {
		return false
	}
	return s != "#" && s != "0" && s != "+"
}

// dateFull formats a unix timestamp or a time.Time as UTC "dd-mm-yyyy hh:mm:ss".
func dateFull(v any) string {
	var t time.Time
	switch ts := v.(type) {
	case time.Time:
		t = ts
	case int:
		t = time.Unix(int64(ts), 0)
	case int64:
		t = time.Unix(ts, 0)
	case float64:
		t = time.Unix(int64(ts), 0)
	default:
		return fmt.Sprint(v)
	}
	return t.UTC().Format(DateFullLayout)
}

// markdownHTML renders markdown source to HTML. Raw HTML in the source is
// omitted by goldmark's default renderer.
func markdownHTML(src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

// sanitize strips unsafe markup from user supplied HTML and marks the rest as safe.
func sanitize(s string) template.HTML {
	return template.HTML(ugcPolicy.Sanitize(s))
}

// raw marks s as trusted HTML, disabling escaping.
func raw(s any) template.HTML {
	switch v := s.(type) {
	case template.HTML:
		return v
	case string:
		return template.HTML(v)
	default:
		return template.HTML(fmt.Sprint(v))
	}
}
