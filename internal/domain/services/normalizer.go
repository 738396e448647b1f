package services

import (
	"net"
	"net/url"
	"strings"
	"unicode"

	"tracelink-lab/internal/domain/models"
)

// NormalizePhone reduces a phone number to its digits.
// Indian mobiles come back as 10 digits; other numbers of 8-15 digits are
// accepted as generic numbers. Anything else returns "".
func NormalizePhone(raw string) string {
	digits := digitsOnly(raw)

	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, "91"):
		digits = digits[2:]
	case len(digits) == 11 && digits[0] == '0':
		// trunk prefix
		digits = digits[1:]
	}

	if len(digits) == 10 && digits[0] >= '6' && digits[0] <= '9' {
		return digits
	}
	if len(digits) >= 8 && len(digits) <= 15 {
		return digits
	}
	return ""
}

// IsMobile reports whether a normalized phone is an Indian mobile number
func IsMobile(normalized string) bool {
	return len(normalized) == 10 && normalized[0] >= '6' && normalized[0] <= '9'
}

// NormalizeValue returns the canonical form of a value of the given type.
// An empty result means the value is not valid for the type.
func NormalizeValue(t models.EntityType, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	switch t {
	case models.EntityPhone:
		return NormalizePhone(raw)
	case models.EntityEmail:
		return normalizeEmail(raw)
	case models.EntityPAN, models.EntityIFSC, models.EntityVehicle:
		return strings.ToUpper(stripSeparators(raw))
	case models.EntityAadhaar:
		d := digitsOnly(raw)
		if len(d) != 12 {
			return ""
		}
		return d
	case models.EntityAccount:
		d := digitsOnly(raw)
		if len(d) < 9 || len(d) > 18 {
			return ""
		}
		return d
	case models.EntityPincode:
		d := digitsOnly(raw)
		if len(d) != 6 || d[0] == '0' {
			return ""
		}
		return d
	case models.EntityIP:
		ip := net.ParseIP(raw)
		if ip == nil {
			return ""
		}
		return ip.String()
	case models.EntityURL:
		return normalizeURL(raw)
	case models.EntityName, models.EntityLocation, models.EntityCompany:
		return TitleCase(collapseSpaces(raw))
	default:
		return collapseSpaces(raw)
	}
}

// NormalizeKey returns the lower-cased canonical value used for identity
func NormalizeKey(t models.EntityType, raw string) string {
	return strings.ToLower(NormalizeValue(t, raw))
}

func normalizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return ""
	}
	return email
}

func normalizeURL(raw string) string {
	raw = strings.TrimRight(raw, ".,;:!?")
	withScheme := raw
	if !strings.Contains(raw, "://") {
		withScheme = "http://" + raw
	}
	parsed, err := url.Parse(withScheme)
	if err != nil || parsed.Host == "" {
		return ""
	}
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Fragment = ""
	return strings.TrimSuffix(parsed.String(), "/")
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' || r == '.' {
			return -1
		}
		return r
	}, s)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TitleCase upper-cases the first letter of every word and lower-cases the rest
func TitleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
