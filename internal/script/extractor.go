package script

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/book-expert/logger"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/book-expert/bulletin-reader/internal/core"
	"github.com/book-expert/bulletin-reader/internal/workspace"
)

const (
	logFmtExtracted = "Extracted %d characters of narration to %s"
)

// Extraction errors.
var (
	ErrMissingStylesheet = errors.New("transform definition not found")
	ErrMissingSource     = errors.New("source document not found")
	ErrMalformedSource   = errors.New("malformed source document")
	ErrTransformFailed   = errors.New("transform failed")
	ErrEmptyScript       = errors.New("transform produced no narration")
)

// Extractor applies a transform to the raw feed and normalizes the result.
type Extractor struct {
	transformer core.Transformer
	normalizer  *Normalizer
	log         *logger.Logger
}

// NewExtractor creates an Extractor that delegates to transformer.
func NewExtractor(transformer core.Transformer, log *logger.Logger) *Extractor {
	return &Extractor{
		transformer: transformer,
		normalizer:  NewNormalizer(),
		log:         log,
	}
}

// Extract transforms sourcePath with stylesheetPath, writes the normalized
// narration to dest and returns it. Nothing is written on failure.
func (e *Extractor) Extract(ctx context.Context, sourcePath, stylesheetPath, dest string) (string, error) {
	_, statErr := os.Stat(stylesheetPath)
	if statErr != nil {
		return "", fmt.Errorf("%w: %w", ErrMissingStylesheet, statErr)
	}

	source, readErr := os.ReadFile(sourcePath)
	if readErr != nil {
		return "", fmt.Errorf("%w: %w", ErrMissingSource, readErr)
	}

	wellFormedErr := CheckWellFormed(source)
	if wellFormedErr != nil {
		return "", wellFormedErr
	}

	output, err := e.transformer.Transform(ctx, sourcePath, stylesheetPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransformFailed, err)
	}

	narration := e.normalizer.Normalize(string(output))
	if narration == "" {
		return "", ErrEmptyScript
	}

	writeErr := workspace.WriteFile(dest, []byte(narration))
	if writeErr != nil {
		return "", fmt.Errorf("failed to store script: %w", writeErr)
	}

	e.log.Info(logFmtExtracted, len(narration), dest)

	return narration, nil
}

// CheckWellFormed reports whether data parses as a complete XML document.
// HTML named entities and any charset known to the WHATWG index are accepted.
func CheckWellFormed(data []byte) error {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = true
	decoder.Entity = xml.HTMLEntity
	decoder.CharsetReader = charsetReader

	elements := 0

	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedSource, err)
		}

		if _, ok := token.(xml.StartElement); ok {
			elements++
		}
	}

	if elements == 0 {
		return fmt.Errorf("%w: no root element", ErrMalformedSource)
	}

	return nil
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	encoding, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}

	return encoding.NewDecoder().Reader(input), nil
}
