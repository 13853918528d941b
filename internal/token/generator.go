// Package token generates guest tokens and validates tokens presented in
// RSVP links.
package token

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	// SuffixLength is the number of random characters appended to a token.
	SuffixLength = 8
	// DefaultMaxAttempts bounds regeneration on collision.
	DefaultMaxAttempts = 10

	suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	fallbackName   = "guest"
)

// ErrRetriesExhausted is returned when no unique token was found within the
// attempt limit.
var ErrRetriesExhausted = errors.New("token generation retries exhausted")

var (
	nonLetters   = regexp.MustCompile(`[^a-z]+`)
	formatRegexp = regexp.MustCompile(`(?i)^[a-z]+(-[a-z0-9]+)+$`)
)

// Normalize lowercases a name part and drops everything outside a-z.
func Normalize(part string) string {
	return nonLetters.ReplaceAllString(strings.ToLower(part), "")
}

// ValidFormat reports whether s has the shape of a guest token.
func ValidFormat(s string) bool {
	return len(s) >= 3 && formatRegexp.MatchString(s)
}

// Generator produces guest tokens of the form first-last-xxxxxxxx.
type Generator struct {
	// Rand is the randomness source. Nil means crypto/rand.
	Rand io.Reader
	// MaxAttempts bounds Unique. Zero means DefaultMaxAttempts.
	MaxAttempts int
}

// Generate derives a token from the name parts plus a random suffix.
func (g *Generator) Generate(first, last string) (string, error) {
	suffix, err := g.suffix()
	if err != nil {
		return "", err
	}
	return Prefix(first, last) + "-" + suffix, nil
}

// Prefix returns the name portion of a token.
func Prefix(first, last string) string {
	f := Normalize(first)
	l := Normalize(last)
	if f == "" {
		f = fallbackName
	}
	if l == "" {
		return f
	}
	return f + "-" + l
}

// Unique generates tokens until one is neither taken nor weak. It fails
// with ErrRetriesExhausted after MaxAttempts tries.
func (g *Generator) Unique(first, last string, taken func(string) bool) (string, error) {
	attempts := g.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	for i := 0; i < attempts; i++ {
		tok, err := g.Generate(first, last)
		if err != nil {
			return "", err
		}
		if _, weak := WeakSuffix(tok); weak {
			continue
		}
		if taken != nil && taken(tok) {
			continue
		}
		return tok, nil
	}
	return "", fmt.Errorf("%w: %q after %d attempts", ErrRetriesExhausted, Prefix(first, last), attempts)
}

func (g *Generator) suffix() (string, error) {
	r := g.Rand
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, SuffixLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("failed to read random suffix: %w", err)
	}
	for i, b := range buf {
		buf[i] = suffixAlphabet[int(b)%len(suffixAlphabet)]
	}
	return string(buf), nil
}

// WeakSuffix flags tokens whose random suffix is guessable: a single
// repeated character or a run of consecutive characters.
func WeakSuffix(tok string) (string, bool) {
	i := strings.LastIndex(tok, "-")
	if i < 0 || i == len(tok)-1 {
		return "missing suffix", true
	}
	suffix := tok[i+1:]
	if len(suffix) < 2 {
		return "suffix too short", true
	}

	same, asc, desc := true, true, true
	for j := 1; j < len(suffix); j++ {
		d := int(suffix[j]) - int(suffix[j-1])
		if d != 0 {
			same = false
		}
		if d != 1 {
			asc = false
		}
		if d != -1 {
			desc = false
		}
	}
	switch {
	case same:
		return "suffix repeats one character", true
	case asc:
		return "suffix is an ascending sequence", true
	case desc:
		return "suffix is a descending sequence", true
	}
	return "", false
}
