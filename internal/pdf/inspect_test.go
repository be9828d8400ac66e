package pdf

import (
	"errors"
	"testing"

	"github.com/dpeshrijal/pdf-summarizer-backend/internal/pdf/pdftest"
)

func TestInspectMinimalPDF(t *testing.T) {
	info, err := Inspect(pdftest.Minimal(2), Limits{})
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if info.Pages != 2 {
		t.Fatalf("pages = %d, want 2", info.Pages)
	}
	if info.ContentType != "application/pdf" {
		t.Fatalf("content type = %s", info.ContentType)
	}
}

func TestInspectRejectsNonPDF(t *testing.T) {
	_, err := Inspect([]byte("plain text, not a document"), Limits{})
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Code != "INVALID_INPUT" {
		t.Fatalf("code = %s, want INVALID_INPUT", apiErr.Code)
	}
}

func TestInspectRejectsEmpty(t *testing.T) {
	if _, err := Inspect(nil, Limits{}); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestInspectLimits(t *testing.T) {
	data := pdftest.Minimal(3)

	_, err := Inspect(data, Limits{MaxBytes: 10})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != "LIMIT_EXCEEDED" {
		t.Fatalf("expected LIMIT_EXCEEDED for size, got %v", err)
	}

	_, err = Inspect(data, Limits{MaxPages: 2})
	if !errors.As(err, &apiErr) || apiErr.Code != "LIMIT_EXCEEDED" {
		t.Fatalf("expected LIMIT_EXCEEDED for pages, got %v", err)
	}
}

func TestInspectRejectsBrokenPDF(t *testing.T) {
	_, err := Inspect([]byte("%PDF-1.4\ngarbage without structure\n"), Limits{})
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Code != "INVALID_PDF" {
		t.Fatalf("code = %s, want INVALID_PDF", apiErr.Code)
	}
}
