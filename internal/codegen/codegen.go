// Package codegen produces and validates the 10-character prize codes printed on receipts.
package codegen

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
)

const (
	CodeLength = 10
	Alphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var (
	ErrAttemptsExhausted = errors.New("code generation attempts exhausted")
	ErrInvalidBatchSize  = errors.New("invalid code batch size")
)

// ExhaustedError reports a batch that could not be filled with distinct codes
// within the attempt budget.
type ExhaustedError struct {
	Requested int
	Generated int
	Attempts  int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf(
		"%s: generated %d of %d unique codes in %d attempts",
		ErrAttemptsExhausted, e.Generated, e.Requested, e.Attempts,
	)
}

func (e *ExhaustedError) Unwrap() error {
	return ErrAttemptsExhausted
}

// Checker reports which candidates already exist in the persistent store.
type Checker interface {
	Taken(ctx context.Context, candidates []string) (map[string]struct{}, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, candidates []string) (map[string]struct{}, error)

func (f CheckerFunc) Taken(ctx context.Context, candidates []string) (map[string]struct{}, error) {
	return f(ctx, candidates)
}

type Generator struct {
	random   io.Reader
	alphabet string
}

func NewGenerator(random io.Reader) *Generator {
	if random == nil {
		random = rand.Reader
	}
	return &Generator{random: random, alphabet: Alphabet}
}

var defaultGenerator = NewGenerator(nil)

func GenerateCode() (string, error) {
	return defaultGenerator.GenerateCode()
}

func GenerateUniqueCodeBatch(ctx context.Context, count, maxAttempts int, taken Checker) ([]string, error) {
	return defaultGenerator.GenerateUniqueCodeBatch(ctx, count, maxAttempts, taken)
}

func (g *Generator) GenerateCode() (string, error) {
	limit := big.NewInt(int64(len(g.alphabet)))
	buf := make([]byte, CodeLength)
	for i := range buf {
		n, err := rand.Int(g.random, limit)
		if err != nil {
			return "", fmt.Errorf("read random source: %w", err)
		}
		buf[i] = g.alphabet[n.Int64()]
	}
	return string(buf), nil
}

// GenerateUniqueCodeBatch returns count distinct codes that are unknown to taken.
// maxAttempts caps the number of candidates drawn for the whole batch.
func (g *Generator) GenerateUniqueCodeBatch(ctx context.Context, count, maxAttempts int, taken Checker) ([]string, error) {
	if count <= 0 || maxAttempts < count {
		return nil, ErrInvalidBatchSize
	}

	codes := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	attempts := 0

	for len(codes) < count {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		need := count - len(codes)
		if remaining := maxAttempts - attempts; need > remaining {
			need = remaining
		}
		if need == 0 {
			return nil, &ExhaustedError{Requested: count, Generated: len(codes), Attempts: attempts}
		}

		candidates := make([]string, 0, need)
		for i := 0; i < need; i++ {
			code, err := g.GenerateCode()
			if err != nil {
				return nil, err
			}
			attempts++
			if _, dup := seen[code]; dup {
				continue
			}
			seen[code] = struct{}{}
			candidates = append(candidates, code)
		}
		if len(candidates) == 0 {
			continue
		}

		var existing map[string]struct{}
		if taken != nil {
			found, err := taken.Taken(ctx, candidates)
			if err != nil {
				return nil, fmt.Errorf("check existing codes: %w", err)
			}
			existing = found
		}

		for _, code := range candidates {
			if _, ok := existing[code]; ok {
				continue
			}
			codes = append(codes, code)
		}
	}

	return codes, nil
}

// ValidateCodeFormat reports whether s is exactly CodeLength characters of [A-Z0-9].
func ValidateCodeFormat(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
