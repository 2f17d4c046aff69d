// Package utils holds small helpers shared by the HTTP and service layers.
package utils

import (
	"strconv"
	"strings"
)

const (
	// DefaultPageSize applies when page_size is absent or unparsable.
	DefaultPageSize = 20
	// MaxPageSize bounds page_size for session, interaction and note listings.
	MaxPageSize = 100
)

// Page is a 1-based page of a listing.
type Page struct {
	Number int
	Size   int
}

// ParsePage reads page and page_size query values. Unparsable values take
// the defaults; the result is clamped to Number >= 1 and 1 <= Size <= MaxPageSize.
func ParsePage(number, size string) Page {
	p := Page{Number: atoiDefault(number, 1), Size: atoiDefault(size, DefaultPageSize)}
	return p.Clamp()
}

// Clamp bounds p to a valid page.
func (p Page) Clamp() Page {
	p.Number = max(p.Number, 1)
	p.Size = min(max(p.Size, 1), MaxPageSize)
	return p
}

// Offset is the number of rows before the page.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// TotalPages is how many pages total rows fill.
func (p Page) TotalPages(total int64) int {
	if total <= 0 {
		return 0
	}
	return int((total + int64(p.Size) - 1) / int64(p.Size))
}

// HasNext reports whether a page follows p.
func (p Page) HasNext(total int64) bool { return p.Number < p.TotalPages(total) }

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}
