// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pdfcheck verifies a source PDF can be read before any engine is
// started on it.
package pdfcheck

import (
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrUnreadable wraps any pdfcpu failure reading the document.
var ErrUnreadable = errors.New("unreadable PDF")

// ErrNoPages is returned for a document with zero pages.
var ErrNoPages = errors.New("PDF has no pages")

// Checker reads PDFs with pdfcpu in relaxed validation mode.
type Checker struct {
	conf *model.Configuration
}

// New returns a Checker with pdfcpu's built-in default configuration. The
// pdfcpu config directory is never created.
func New() *Checker {
	api.DisableConfigDir()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Checker{conf: conf}
}

// PageCount returns the number of pages in the PDF at path.
func (c *Checker) PageCount(path string) (n int, err error) {
	// pdfcpu can panic on badly damaged input.
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("%w: %s: %v", ErrUnreadable, path, r)
		}
	}()

	if err := api.ValidateFile(path, c.conf); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)
	}
	n, err = api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoPages, path)
	}
	return n, nil
}
