// Package validation checks the kind and site path segments of dataset routes.
package validation

import (
	"errors"
	"strings"
	"unicode"

	"github.com/kjstillabower/wind-analytics-service/internal/models"
)

var (
	// ErrInvalidKind is returned for a kind other than mesoscale, lidar or generic.
	ErrInvalidKind = errors.New("invalid dataset kind")

	// ErrInvalidSite is returned for an unknown site or a malformed generic label.
	ErrInvalidSite = errors.New("invalid site")
)

// maxLabelLen bounds generic dataset labels, in runes.
const maxLabelLen = 64

// ValidateKind parses a kind path segment, case-insensitively.
func ValidateKind(input string) (models.Kind, error) {
	switch k := models.Kind(strings.ToLower(strings.TrimSpace(input))); k {
	case models.KindMesoscale, models.KindLidar, models.KindGeneric:
		return k, nil
	}
	return "", ErrInvalidKind
}

// ValidateComparableKind accepts only kinds that have one dataset per configured site.
func ValidateComparableKind(input string) (models.Kind, error) {
	k, err := ValidateKind(input)
	if err != nil || k == models.KindGeneric {
		return "", ErrInvalidKind
	}
	return k, nil
}

// ValidateSite resolves a site name. Mesoscale and LiDAR datasets must name a
// configured site; generic datasets accept any label of letters, digits, hyphen
// and underscore, returned lowercased.
func ValidateSite(input string, kind models.Kind, sites []models.Site) (string, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	if kind == models.KindGeneric {
		return validateLabel(s)
	}
	for _, site := range sites {
		if strings.EqualFold(site.Name, s) {
			return site.Name, nil
		}
	}
	return "", ErrInvalidSite
}

// LookupSite returns the configured site named name.
func LookupSite(name string, sites []models.Site) (models.Site, error) {
	for _, site := range sites {
		if strings.EqualFold(site.Name, strings.TrimSpace(name)) {
			return site, nil
		}
	}
	return models.Site{}, ErrInvalidSite
}

func validateLabel(s string) (string, error) {
	r := []rune(s)
	if len(r) == 0 || len(r) > maxLabelLen {
		return "", ErrInvalidSite
	}
	for _, c := range r {
		if !isAllowedLabelRune(c) {
			return "", ErrInvalidSite
		}
	}
	return s, nil
}

// isAllowedLabelRune returns true for letters (Unicode), digits, hyphen and underscore.
func isAllowedLabelRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	return r == '-' || r == '_'
}
