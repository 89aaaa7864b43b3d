package service

import (
	"regexp"
	"strings"

	"github.com/noah-isme/seatwatch/internal/models"
)

var (
	phonePunctuation = strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "")
	phonePattern     = regexp.MustCompile(`^\+?\d{10,15}$`)
	emailPattern     = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// ResolveContact classifies a raw contact string. Phone numbers win over
// e-mail; anything else is ContactUnknown with the trimmed input.
func ResolveContact(raw string) models.Contact {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return models.Contact{Kind: models.ContactUnknown}
	}

	if digits := phonePunctuation.Replace(trimmed); phonePattern.MatchString(digits) {
		return models.Contact{Kind: models.ContactPhone, Normalized: normalizePhone(digits)}
	}
	if emailPattern.MatchString(trimmed) {
		return models.Contact{Kind: models.ContactEmail, Normalized: strings.ToLower(trimmed)}
	}
	return models.Contact{Kind: models.ContactUnknown, Normalized: trimmed}
}

func normalizePhone(digits string) string {
	if strings.HasPrefix(digits, "+") {
		return digits
	}
	if len(digits) == 10 {
		return "+1" + digits
	}
	return "+" + digits
}
