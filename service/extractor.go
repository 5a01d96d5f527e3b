package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"

	"github.com/ledongthuc/pdf"
)

// minExtractedLength is the minimum text length a strategy must produce to
// be accepted
const minExtractedLength = 100

// ErrExtractionExhausted is returned when every extraction strategy fails.
// Terminal for the document: retrying a structurally broken PDF is unlikely
// to succeed, so ingestion of that version is abandoned.
var ErrExtractionExhausted = errors.New("all text extraction strategies failed")

// CommandRunner executes an external command and returns its stdout.
// Injected so tests can substitute a fake pdftotext.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// ExtractionStrategy is one way of turning PDF bytes into plain text
type ExtractionStrategy struct {
	Name    string
	Attempt func(ctx context.Context, data []byte) (string, error)
}

// TextExtractor converts a downloaded document to plain text by trying an
// ordered list of strategies and accepting the first result that meets the
// minimum-length threshold
type TextExtractor struct {
	strategies []ExtractionStrategy
	minLength  int
}

// NewTextExtractor creates an extractor with the default strategy order:
// pdftotext with layout preservation, pdftotext raw, then the pure-Go
// fallback reader
func NewTextExtractor(runner CommandRunner) *TextExtractor {
	if runner == nil {
		runner = execRunner{}
	}
	return &TextExtractor{
		strategies: []ExtractionStrategy{
			{Name: "pdftotext-layout", Attempt: pdftotextStrategy(runner, "-layout")},
			{Name: "pdftotext-raw", Attempt: pdftotextStrategy(runner, "-raw")},
			{Name: "purego-pdf", Attempt: pureGoStrategy},
		},
		minLength: minExtractedLength,
	}
}

// NewTextExtractorWithStrategies creates an extractor with an explicit
// strategy list. Used by tests to exercise the fallback policy directly.
func NewTextExtractorWithStrategies(minLength int, strategies ...ExtractionStrategy) *TextExtractor {
	return &TextExtractor{strategies: strategies, minLength: minLength}
}

// Extract tries each strategy in order and returns the first text exceeding
// the minimum length
func (e *TextExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	for _, strategy := range e.strategies {
		text, err := strategy.Attempt(ctx, data)
		if err != nil {
			log.Printf("Extraction strategy %s failed: %v", strategy.Name, err)
			continue
		}
		if len(text) < e.minLength {
			log.Printf("Extraction strategy %s produced only %d chars, trying next", strategy.Name, len(text))
			continue
		}
		return text, nil
	}
	return "", ErrExtractionExhausted
}

// pdftotextStrategy shells out to pdftotext with the given layout flag.
// The PDF is staged in a temp file; "-" sends text to stdout.
func pdftotextStrategy(runner CommandRunner, layoutFlag string) func(ctx context.Context, data []byte) (string, error) {
	return func(ctx context.Context, data []byte) (string, error) {
		tmp, err := os.CreateTemp("", "tariffdesk-*.pdf")
		if err != nil {
			return "", fmt.Errorf("failed to create temp file: %w", err)
		}
		defer os.Remove(tmp.Name())

		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return "", fmt.Errorf("failed to write temp file: %w", err)
		}
		tmp.Close()

		out, err := runner.Run(ctx, "pdftotext", layoutFlag, tmp.Name(), "-")
		if err != nil {
			return "", fmt.Errorf("pdftotext %s failed: %w", layoutFlag, err)
		}
		return string(out), nil
	}
}

// pureGoStrategy reads the PDF without external tooling. Lower fidelity on
// tabular layouts, which is why it runs last.
func pureGoStrategy(_ context.Context, data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to read PDF text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("failed to buffer PDF text: %w", err)
	}
	return buf.String(), nil
}
