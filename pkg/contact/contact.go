// Package contact provides the broadcast recipient list
package contact

import (
	"context"
	"strings"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/matins/pkg/model"
)

// Source lists contacts and registers newly seen ones
type Source interface {
	List(ctx context.Context) ([]*model.Contact, error)
	Add(ctx context.Context, contact *model.Contact) error
}

const (
	minPhoneDigits = 10
	countryCodeBR  = "55"
)

// NormalizePhone keeps only digits and prepends the Brazilian country code to
// national numbers (10 or 11 digits). Numbers with fewer than 10 digits are
// rejected.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if len(digits) < minPhoneDigits {
		return "", goerr.Wrap(model.ErrInvalidContactID, "phone number is too short", goerr.V("phone", raw))
	}
	if len(digits) <= 11 {
		digits = countryCodeBR + digits
	}
	return digits, nil
}

// Find returns the contact with id, or nil
func Find(contacts []*model.Contact, id string) *model.Contact {
	for _, c := range contacts {
		if c != nil && c.ID == id {
			return c
		}
	}
	return nil
}
