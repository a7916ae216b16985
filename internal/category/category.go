// Package category holds the fixed set of help categories a channel can be
// filed under. Every component that validates a category goes through here.
package category

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is returned for a category outside the fixed set.
var ErrInvalid = errors.New("invalid category")

// Category is one of the fixed help categories.
type Category string

const (
	Garten     Category = "garten"
	Haushalt   Category = "haushalt"
	Einkaufen  Category = "einkaufen"
	Umzug      Category = "umzug"
	Handwerk   Category = "handwerk"
	Technik    Category = "technik"
	Tiere      Category = "tiere"
	Betreuung  Category = "betreuung"
	Nachhilfe  Category = "nachhilfe"
	Fahrdienst Category = "fahrdienst"
	Sonstiges  Category = "sonstiges"
)

var all = []Category{
	Garten, Haushalt, Einkaufen, Umzug, Handwerk, Technik,
	Tiere, Betreuung, Nachhilfe, Fahrdienst, Sonstiges,
}

var known = func() map[Category]struct{} {
	m := make(map[Category]struct{}, len(all))
	for _, c := range all {
		m[c] = struct{}{}
	}
	return m
}()

// All returns the valid categories in display order.
func All() []Category {
	out := make([]Category, len(all))
	copy(out, all)
	return out
}

// Valid reports whether s names a category in the fixed set.
func Valid(s string) bool {
	_, ok := known[Category(s)]
	return ok
}

// Parse normalizes s and returns the matching category, or ErrInvalid.
func Parse(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := known[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return c, nil
}

// Strings returns the valid categories as plain strings.
func Strings() []string {
	out := make([]string, len(all))
	for i, c := range all {
		out[i] = string(c)
	}
	return out
}
