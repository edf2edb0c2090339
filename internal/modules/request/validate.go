package request

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	phoneRegex     = regexp.MustCompile(`^\+?[1-9]\d{7,14}$`)
	phoneSeparator = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
)

// normalizePhone strips common separators and checks an E.164-style number.
func normalizePhone(raw string) (string, error) {
	phone := phoneSeparator.Replace(strings.TrimSpace(raw))
	if !phoneRegex.MatchString(phone) {
		return "", fmt.Errorf("%w: invalid phone number", ErrBadRequest)
	}
	return phone, nil
}

func validatePhotos(photos []string, required int) error {
	if len(photos) != required {
		return fmt.Errorf("%w: exactly %d parcel photos required, got %d", ErrBadRequest, required, len(photos))
	}
	for _, p := range photos {
		u, err := url.ParseRequestURI(strings.TrimSpace(p))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: invalid photo url %q", ErrBadRequest, p)
		}
	}
	return nil
}

func validateItem(description, category string) error {
	if strings.TrimSpace(description) == "" {
		return fmt.Errorf("%w: item description required", ErrBadRequest)
	}
	if strings.TrimSpace(category) == "" {
		return fmt.Errorf("%w: category required", ErrBadRequest)
	}
	return nil
}

func validateReceiver(name, phone string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: receiver name required", ErrBadRequest)
	}
	return normalizePhone(phone)
}

func normalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

func trimmedPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
