package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/book-expert/hntm-service/internal/binio"
	"github.com/book-expert/logger"
)

const commentPrefix = "#"

// ErrNoVectors is returned when a vector file holds no data lines.
var ErrNoVectors = errors.New("no feature vectors found")

// ErrRaggedVectors is returned when vector lines differ in length.
var ErrRaggedVectors = errors.New("feature vectors differ in dimension")

// readVectorFile loads one feature vector per line from path.
func readVectorFile(path string, log *logger.Logger) ([][]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector file '%s': %w", path, err)
	}
	defer file.Close()

	vectors, err := readVectors(file, log)
	if err != nil {
		return nil, fmt.Errorf("vector file '%s': %w", path, err)
	}

	return vectors, nil
}

// readVectors parses whitespace, comma or semicolon separated numbers. Blank
// lines and lines starting with '#' are skipped. Malformed tokens become zero
// and are reported as warnings.
func readVectors(r io.Reader, log *logger.Logger) ([][]float64, error) {
	var vectors [][]float64

	scanner := bufio.NewScanner(r)
	lineNumber := 0

	for scanner.Scan() {
		lineNumber++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, commentPrefix) {
			continue
		}

		values, malformed := binio.ParseFloatTokens(line)
		if malformed > 0 {
			log.Warn("Line %d: %d malformed value(s) replaced by 0", lineNumber, malformed)
		}

		if len(vectors) > 0 && len(values) != len(vectors[0]) {
			return nil, fmt.Errorf("%w: line %d has %d values, want %d", ErrRaggedVectors, lineNumber, len(values), len(vectors[0]))
		}

		vectors = append(vectors, values)
	}

	err := scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to read vectors: %w", err)
	}

	if len(vectors) == 0 {
		return nil, ErrNoVectors
	}

	return vectors, nil
}
