package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
)

// ErrExtractionFailed is returned for corrupt, unsupported or text-less PDFs.
var ErrExtractionFailed = errors.New("extraction failed")

// Extractor turns an uploaded document into plain text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// Options tunes PDFExtractor.
type Options struct {
	// UsePdftotext tries the poppler pdftotext binary before the Go parser.
	UsePdftotext bool
	// PdftotextTimeout bounds the external process. Zero means 30s.
	PdftotextTimeout time.Duration
}

// PDFExtractor extracts text from PDF payloads.
type PDFExtractor struct {
	usePdftotext bool
	timeout      time.Duration
}

func NewPDFExtractor(opts Options) *PDFExtractor {
	timeout := opts.PdftotextTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PDFExtractor{usePdftotext: opts.UsePdftotext, timeout: timeout}
}

// Extract returns normalised plain text for a PDF binary.
func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-")) {
		return "", fmt.Errorf("%w: not a pdf document", ErrExtractionFailed)
	}
	if e.usePdftotext {
		// Better with complex layouts; fall back to the Go parser on any failure.
		if text, err := e.extractWithPdftotext(ctx, data); err == nil && text != "" {
			return text, nil
		}
	}
	return extractWithGoLib(data)
}

func (e *PDFExtractor) extractWithPdftotext(ctx context.Context, data []byte) (string, error) {
	bin, err := exec.LookPath("pdftotext")
	if err != nil {
		return "", fmt.Errorf("pdftotext not found: %w", err)
	}
	tmp, err := os.CreateTemp("", "cv-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	output, err := exec.CommandContext(ctx, bin, "-layout", "-enc", "UTF-8", tmp.Name(), "-").Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext failed: %w", err)
	}
	return normalizeText(string(output)), nil
}

func extractWithGoLib(data []byte) (text string, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: pdf parser panic: %v", ErrExtractionFailed, r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: open pdf: %w", ErrExtractionFailed, err)
	}
	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing entirely
			continue
		}
		b.WriteString(pageText)
		b.WriteString("\n")
	}
	text = normalizeText(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: no text extracted from pdf", ErrExtractionFailed)
	}
	return text, nil
}

// normalizeText drops NULs and invalid UTF-8, collapses whitespace inside
// lines and keeps at most one blank line between paragraphs.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\f", "\n")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if len(out) > 0 && !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
