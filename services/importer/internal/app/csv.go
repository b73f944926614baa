package app

import (
	"math"
	"slices"
	"strconv"
	"strings"

	"readshelf/pkg/validation"
)

// requiredHeaders must all be present in the header row, in any order.
var requiredHeaders = []string{"title", "author", "status", "rating", "notes"}

// splitLines splits trimmed file content on newlines, dropping a trailing
// carriage return from each line.
func splitLines(content string) []string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// splitFields splits a line on commas and trims each field. Quoted fields are
// not recognised.
func splitFields(line string) []string {
	fields := strings.Split(line, ",")
	for i, f := range fields {
		fields[i] = strings.TrimSpace(f)
	}
	return fields
}

// headerIndex maps a lowercased header name to its column position.
type headerIndex map[string]int

func parseHeader(line string) headerIndex {
	idx := make(headerIndex)
	for i, name := range splitFields(line) {
		name = strings.ToLower(name)
		if _, ok := idx[name]; !ok {
			idx[name] = i
		}
	}
	return idx
}

func (h headerIndex) hasRequired() bool {
	for _, name := range requiredHeaders {
		if _, ok := h[name]; !ok {
			return false
		}
	}
	return true
}

func (h headerIndex) value(fields []string, name string) string {
	i, ok := h[name]
	if !ok || i >= len(fields) {
		return ""
	}
	return fields[i]
}

// bookInput builds the candidate for one data line. An unparsable or absent
// rating becomes 0. A rating that parses as a number but is not a whole
// number yields a rating field error.
func (h headerIndex) bookInput(line string) (validation.BookInput, *validation.FieldError) {
	fields := splitFields(line)
	rating, ratingErr := parseRating(h.value(fields, "rating"))
	return validation.BookInput{
		Title:  h.value(fields, "title"),
		Author: h.value(fields, "author"),
		Status: h.value(fields, "status"),
		Rating: rating,
		Notes:  h.value(fields, "notes"),
	}, ratingErr
}

const maxRatingMagnitude = 1 << 20

func parseRating(raw string) (int, *validation.FieldError) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) || math.Abs(v) > maxRatingMagnitude {
		return 0, &validation.FieldError{Field: "rating", Message: msgRatingNotWhole}
	}
	return int(v), nil
}

// withFieldError adds extra to fields keeping the column order of
// requiredHeaders.
func withFieldError(fields []validation.FieldError, extra *validation.FieldError) []validation.FieldError {
	if extra == nil {
		return fields
	}
	pos := slices.Index(requiredHeaders, extra.Field)
	at := len(fields)
	for i, f := range fields {
		if slices.Index(requiredHeaders, f.Field) > pos {
			at = i
			break
		}
	}
	return slices.Insert(fields, at, *extra)
}
