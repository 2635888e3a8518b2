// Package validate normalizes and checks user-supplied post fields.
package validate

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	FieldTitle   = "title"
	FieldContent = "content"

	MaxTitleRunes   = 100
	MaxContentRunes = 5000
)

// RawPost is the post form as submitted.
type RawPost struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Fields are the normalized values of a RawPost that passed every check.
type Fields struct {
	Title   string
	Content string
}

// FieldErrors maps a field name to its messages. Fields that passed are absent.
type FieldErrors map[string][]string

func (e FieldErrors) Empty() bool {
	return len(e) == 0
}

func (e FieldErrors) add(field, message string) {
	e[field] = append(e[field], message)
}

type fieldRule struct {
	name     string
	label    string
	maxRunes int
}

var postRules = []fieldRule{
	{name: FieldTitle, label: "Title", maxRunes: MaxTitleRunes},
	{name: FieldContent, label: "Content", maxRunes: MaxContentRunes},
}

// Post trims and NFC-normalizes raw, then checks length limits in runes.
// Fields is only meaningful when the returned FieldErrors is empty.
func Post(raw RawPost) (Fields, FieldErrors) {
	values := map[string]string{
		FieldTitle:   normalize(raw.Title),
		FieldContent: normalize(raw.Content),
	}

	errs := FieldErrors{}
	for _, rule := range postRules {
		value := values[rule.name]
		switch {
		case value == "":
			errs.add(rule.name, rule.label+" is required")
		case utf8.RuneCountInString(value) > rule.maxRunes:
			errs.add(rule.name, rule.label+" must be at most "+strconv.Itoa(rule.maxRunes)+" characters")
		}
	}
	return Fields{Title: values[FieldTitle], Content: values[FieldContent]}, errs
}

func normalize(value string) string {
	return strings.TrimSpace(norm.NFC.String(value))
}
