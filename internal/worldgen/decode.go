package worldgen

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Backend documents are loosely shaped. The helpers below never fail: a
// missing, null, mistyped or placeholder field yields the default.

// placeholders are values generators emit when they had nothing to say.
var placeholders = map[string]bool{
	"":            true,
	"unknown":     true,
	"n/a":         true,
	"none":        true,
	"null":        true,
	"undefined":   true,
	"placeholder": true,
	"tbd":         true,
}

func isPlaceholder(s string) bool {
	return placeholders[strings.ToLower(strings.TrimSpace(s))]
}

// text returns the string at r, joining string arrays with newlines, or def
// when r is absent, empty or a placeholder.
func text(r gjson.Result, def string) string {
	var s string
	switch {
	case r.Type == gjson.String || r.Type == gjson.Number:
		s = strings.TrimSpace(r.String())
	case r.IsArray():
		s = strings.Join(stringList(r), "\n")
	}
	if isPlaceholder(s) {
		return def
	}
	return s
}

// stringList returns the non-placeholder string elements of an array. Objects
// contribute their "name" field. A scalar string yields a one-element list.
// The result is never nil.
func stringList(r gjson.Result) []string {
	out := []string{}
	add := func(v gjson.Result) {
		var s string
		switch {
		case v.Type == gjson.String || v.Type == gjson.Number:
			s = strings.TrimSpace(v.String())
		case v.IsObject():
			s = strings.TrimSpace(v.Get("name").String())
		}
		if !isPlaceholder(s) {
			out = append(out, s)
		}
	}
	switch {
	case r.IsArray():
		r.ForEach(func(_, v gjson.Result) bool {
			add(v)
			return true
		})
	case r.Type == gjson.String:
		add(r)
	}
	return out
}

// values returns the elements of an array as plain Go values. The result is
// never nil.
func values(r gjson.Result) []any {
	out := []any{}
	if !r.IsArray() {
		return out
	}
	r.ForEach(func(_, v gjson.Result) bool {
		out = append(out, v.Value())
		return true
	})
	return out
}

// object returns r as a map, or nil if it is not an object.
func object(r gjson.Result) map[string]any {
	if !r.IsObject() {
		return nil
	}
	m, _ := r.Value().(map[string]any)
	return m
}

// integer returns the number at r, or def when r is not a positive number.
func integer(r gjson.Result, def int) int {
	if r.Type != gjson.Number || r.Int() <= 0 {
		return def
	}
	return int(r.Int())
}

// oneOf returns the lower-cased string at r if it is in allowed, else def.
func oneOf(r gjson.Result, allowed []string, def string) string {
	s := strings.ToLower(strings.TrimSpace(r.String()))
	for _, a := range allowed {
		if s == a {
			return s
		}
	}
	return def
}
