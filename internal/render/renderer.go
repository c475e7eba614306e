package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/docrender/internal/template"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PageBreak separates the documents of consecutive records.
const PageBreak = `<div style="page-break-after: always;"></div>`

var ErrInvalidArtifact = errors.New("rendered artifact is not a valid PDF")

// PageCounter validates a PDF and reports its page count.
type PageCounter func(pdf []byte) (int, error)

// PDFPageCount reads the document with pdfcpu.
func PDFPageCount(pdf []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(pdf), nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	return n, nil
}

// Document is one rendered artifact.
type Document struct {
	PDF   []byte
	Size  int64
	Pages int
}

// Renderer renders a batch of records into a single document.
type Renderer struct {
	pool       *Pool
	countPages PageCounter
}

func NewRenderer(pool *Pool, countPages PageCounter) *Renderer {
	if countPages == nil {
		countPages = PDFPageCount
	}
	return &Renderer{pool: pool, countPages: countPages}
}

// BuildHTML executes tpl once per record and joins the results with page breaks.
func BuildHTML(tpl *template.Compiled, records []map[string]any) (string, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("%w: no records", template.ErrInvalidTemplate)
	}
	parts := make([]string, 0, len(records))
	for i, rec := range records {
		html, err := tpl.Execute(rec)
		if err != nil {
			return "", fmt.Errorf("record %d: %w", i, err)
		}
		parts = append(parts, html)
	}
	return strings.Join(parts, PageBreak), nil
}

// Render produces one PDF containing a page per record.
func (r *Renderer) Render(ctx context.Context, tpl *template.Compiled, records []map[string]any) (*Document, error) {
	html, err := BuildHTML(tpl, records)
	if err != nil {
		return nil, err
	}

	engine, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	pdf, err := engine.RenderPDF(ctx, html)
	// A failure that was not caused by our own deadline means the engine
	// itself misbehaved.
	r.pool.Release(engine, err != nil && ctx.Err() == nil)
	if err != nil {
		return nil, err
	}

	pages, err := r.countPages(pdf)
	if err != nil {
		return nil, err
	}
	return &Document{PDF: pdf, Size: int64(len(pdf)), Pages: pages}, nil
}
