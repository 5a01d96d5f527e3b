package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingStrategy(name string) ExtractionStrategy {
	return ExtractionStrategy{
		Name: name,
		Attempt: func(context.Context, []byte) (string, error) {
			return "", errors.New(name + " broke")
		},
	}
}

func fixedStrategy(name, output string) ExtractionStrategy {
	return ExtractionStrategy{
		Name: name,
		Attempt: func(context.Context, []byte) (string, error) {
			return output, nil
		},
	}
}

func TestExtractFirstStrategyWins(t *testing.T) {
	long := strings.Repeat("tariff text ", 20)
	extractor := NewTextExtractorWithStrategies(100,
		fixedStrategy("first", long),
		failingStrategy("second"),
	)

	text, err := extractor.Extract(context.Background(), []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, long, text)
}

func TestExtractFallsThroughOnErrorAndShortOutput(t *testing.T) {
	long := strings.Repeat("recovered content ", 20)
	extractor := NewTextExtractorWithStrategies(100,
		failingStrategy("first"),
		fixedStrategy("second", "too short"),
		fixedStrategy("third", long),
	)

	text, err := extractor.Extract(context.Background(), []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, long, text)
}

func TestExtractAllStrategiesExhausted(t *testing.T) {
	extractor := NewTextExtractorWithStrategies(100,
		failingStrategy("first"),
		fixedStrategy("second", "short"),
	)

	_, err := extractor.Extract(context.Background(), []byte("%PDF"))
	assert.ErrorIs(t, err, ErrExtractionExhausted)
}

// recordingRunner captures pdftotext invocations without executing anything
type recordingRunner struct {
	calls  [][]string
	output []byte
	err    error
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	return r.output, r.err
}

func TestDefaultStrategyOrder(t *testing.T) {
	runner := &recordingRunner{err: errors.New("pdftotext not installed")}
	extractor := NewTextExtractor(runner)

	// Both external strategies fail, then the pure-Go reader rejects the
	// bogus bytes. The point is the invocation order, not the output.
	_, err := extractor.Extract(context.Background(), []byte("not a pdf"))
	assert.ErrorIs(t, err, ErrExtractionExhausted)

	require.Len(t, runner.calls, 2)
	assert.Equal(t, "pdftotext", runner.calls[0][0])
	assert.Equal(t, "-layout", runner.calls[0][1])
	assert.Equal(t, "-raw", runner.calls[1][1])
}

func TestPdftotextStrategyPassesOutputThrough(t *testing.T) {
	long := strings.Repeat("HS Code Description CD\n61091000 shirts 25.0\n", 10)
	runner := &recordingRunner{output: []byte(long)}
	extractor := NewTextExtractor(runner)

	text, err := extractor.Extract(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, long, text)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "-", runner.calls[0][len(runner.calls[0])-1])
}
