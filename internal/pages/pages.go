// Package pages splits extracted Markdown into the pages the extraction
// engine marked with <span id="page-N-M"></span> anchors.
package pages

import (
	"regexp"
	"strings"
)

var markerPattern = regexp.MustCompile(`<span id="page-\d+-\d+"></span>`)

// Split breaks text at every page marker and returns the trimmed, non-empty
// pages in document order. Text without markers is a single page.
func Split(text string) []string {
	parts := markerPattern.Split(text, -1)
	pages := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			pages = append(pages, p)
		}
	}
	return pages
}

// Count returns the number of pages Split finds in text.
func Count(text string) int {
	return len(Split(text))
}
