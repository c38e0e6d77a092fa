package capability

import (
	"fmt"
	"strconv"

	"sourcekit/internal/domain"
)

// Value constructors shape loosely typed extension input into the documented
// result shapes. They are total: any input, including nil, yields a value with
// every field present.

// NewPartialManga builds a listing entry.
func NewPartialManga(info map[string]any) map[string]any {
	return map[string]any{
		"mangaId":  str(info, "mangaId"),
		"title":    str(info, "title"),
		"image":    str(info, "image"),
		"subtitle": str(info, "subtitle"),
	}
}

// NewManga builds a manga detail.
func NewManga(info map[string]any) map[string]any {
	return map[string]any{
		"id":             str(info, "id"),
		"titles":         strList(info, "titles"),
		"image":          str(info, "image"),
		"author":         str(info, "author"),
		"artist":         str(info, "artist"),
		"desc":           str(info, "desc"),
		"status":         numOr(info, "status", StatusUnknown),
		"rating":         num(info, "rating"),
		"hentai":         boolean(info, "hentai"),
		"tags":           mapList(info, "tags", NewTagSection),
		"lastUpdate":     str(info, "lastUpdate"),
		"langFlag":       str(info, "langFlag"),
		"follows":        num(info, "follows"),
		"views":          num(info, "views"),
		"covers":         strList(info, "covers"),
		"additionalInfo": mapOrEmpty(info, "additionalInfo"),
	}
}

// NewChapter builds a chapter list entry.
func NewChapter(info map[string]any) map[string]any {
	return map[string]any{
		"id":       str(info, "id"),
		"mangaId":  str(info, "mangaId"),
		"name":     str(info, "name"),
		"chapNum":  num(info, "chapNum"),
		"volume":   num(info, "volume"),
		"langCode": strOr(info, "langCode", languageCodes["UNKNOWN"]),
		"group":    str(info, "group"),
		"time":     str(info, "time"),
	}
}

// NewChapterDetails builds a chapter page list.
func NewChapterDetails(info map[string]any) map[string]any {
	return map[string]any{
		"id":        str(info, "id"),
		"mangaId":   str(info, "mangaId"),
		"pages":     strList(info, "pages"),
		"longStrip": boolean(info, "longStrip"),
	}
}

// NewTag builds a tag.
func NewTag(info map[string]any) map[string]any {
	return map[string]any{
		"id":    str(info, "id"),
		"label": str(info, "label"),
	}
}

// NewTagSection builds a labelled group of tags.
func NewTagSection(info map[string]any) map[string]any {
	return map[string]any{
		"id":    str(info, "id"),
		"label": str(info, "label"),
		"tags":  mapList(info, "tags", NewTag),
	}
}

// NewHomeSection builds a home page row.
func NewHomeSection(info map[string]any) map[string]any {
	return map[string]any{
		"id":                str(info, "id"),
		"title":             str(info, "title"),
		"type":              strOr(info, "type", SectionSingleRowNormal),
		"items":             mapList(info, "items", NewPartialManga),
		"containsMoreItems": boolean(info, "view_more") || boolean(info, "containsMoreItems"),
	}
}

// NewPagedResults builds the pagination envelope. Missing metadata stays nil.
func NewPagedResults(info map[string]any) map[string]any {
	return map[string]any{
		"results":  mapList(info, "results", NewPartialManga),
		"metadata": info["metadata"],
	}
}

// NewSourceMenu builds a settings form.
func NewSourceMenu(info map[string]any) map[string]any {
	return map[string]any{
		"id":       str(info, "id"),
		"title":    str(info, "title"),
		"sections": mapList(info, "sections", NewFormSection),
	}
}

// NewFormSection builds a settings form section.
func NewFormSection(info map[string]any) map[string]any {
	return map[string]any{
		"id":     str(info, "id"),
		"header": str(info, "header"),
		"footer": str(info, "footer"),
		"rows":   rowList(info, "rows"),
	}
}

// NewFormRow builds a settings row of the given kind. Unknown kinds are kept
// as labels so a form always renders.
func NewFormRow(kind string, info map[string]any) map[string]any {
	row := map[string]any{
		"id":    str(info, "id"),
		"type":  kind,
		"label": str(info, "label"),
	}
	switch kind {
	case domain.RowButton:
	case domain.RowLabel:
		row["value"] = str(info, "value")
	case domain.RowStepper:
		row["value"] = num(info, "value")
		row["min"] = num(info, "min")
		row["max"] = num(info, "max")
		row["step"] = numOr(info, "step", 1)
	case domain.RowInput:
		row["value"] = str(info, "value")
		row["placeholder"] = str(info, "placeholder")
	case domain.RowSwitch:
		row["value"] = boolean(info, "value")
	case domain.RowSelect:
		row["value"] = strList(info, "value")
		row["options"] = strList(info, "options")
	case domain.RowNavigation:
		if form, ok := info["form"].(map[string]any); ok {
			row["form"] = NewSourceMenu(form)
		} else {
			row["form"] = NewSourceMenu(nil)
		}
	default:
		row["type"] = domain.RowLabel
		row["value"] = str(info, "value")
	}
	return row
}

func rowList(info map[string]any, key string) []any {
	raw, _ := info[key].([]any)
	out := make([]any, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		kind, _ := m["type"].(string)
		out = append(out, NewFormRow(kind, m))
	}
	return out
}

func mapList(info map[string]any, key string, build func(map[string]any) map[string]any) []any {
	raw, _ := info[key].([]any)
	out := make([]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, build(m))
		}
	}
	return out
}

func mapOrEmpty(info map[string]any, key string) map[string]any {
	if m, ok := info[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func str(info map[string]any, key string) string {
	return strOr(info, key, "")
}

func strOr(info map[string]any, key, def string) string {
	v, ok := info[key]
	if !ok || v == nil {
		return def
	}
	return toString(v)
}

// toString renders scalars the way extensions expect IDs to compare: integral
// numbers without a fractional part.
func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func strList(info map[string]any, key string) []any {
	switch t := info[key].(type) {
	case []any:
		out := make([]any, 0, len(t))
		for _, v := range t {
			if v == nil {
				continue
			}
			out = append(out, toString(v))
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = v
		}
		return out
	case string:
		return []any{t}
	}
	return []any{}
}

func num(info map[string]any, key string) float64 {
	return numOr(info, key, 0)
}

func numOr(info map[string]any, key string, def float64) float64 {
	switch t := info[key].(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
	}
	return def
}

func boolean(info map[string]any, key string) bool {
	switch t := info[key].(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	}
	return false
}
