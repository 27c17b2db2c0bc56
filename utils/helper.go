package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// GenerateSecret returns n cryptographically random bytes, hex-encoded.
// Used for webhook endpoint signing secrets.
func GenerateSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// NormalizeNameTokens lowercases a party/payee name, strips punctuation and
// returns its distinct tokens. Token order is ignored so "Smith John" and
// "John Smith" normalize to the same set.
func NormalizeNameTokens(name string) map[string]struct{} {
	tokens := make(map[string]struct{})
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens[b.String()] = struct{}{}
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// SharedTokenCount returns how many normalized tokens two names share.
func SharedTokenCount(a, b string) int {
	ta := NormalizeNameTokens(a)
	tb := NormalizeNameTokens(b)
	n := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			n++
		}
	}
	return n
}

func ProcessValidationErrors(err error) map[string]string {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"error": err.Error()}
	}
	errorResponse := make(map[string]string)
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

// DereferencePtr returns the zero value when p is nil.
func DereferencePtr[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
