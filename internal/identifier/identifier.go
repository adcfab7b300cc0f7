// Package identifier validates tenant slugs and the PostgreSQL identifiers
// derived from them. Database and role names cannot be bound as query
// parameters, so every name interpolated into DDL must pass ValidateIdentifier
// first.
package identifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

const (
	// MaxIdentifierLength is PostgreSQL's NAMEDATALEN - 1.
	MaxIdentifierLength = 63

	MinSlugLength = 2
	MaxSlugLength = 40

	namePrefix = "tenant_"
	roleSuffix = "_user"
)

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]{0,62}$`)
	slugPattern       = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]*[a-z0-9])?$`)
)

// ValidateSlug checks a URL-safe tenant slug.
func ValidateSlug(slug string) error {
	if n := len(slug); n < MinSlugLength || n > MaxSlugLength {
		return fmt.Errorf("slug %q must be %d-%d characters: %w", slug, MinSlugLength, MaxSlugLength, pgtenant.ErrValidation)
	}
	if !slugPattern.MatchString(slug) {
		return fmt.Errorf("slug %q may only contain lowercase letters, digits and inner hyphens: %w", slug, pgtenant.ErrValidation)
	}
	return nil
}

// ValidateIdentifier checks a database or role name against the allow-list.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("identifier %q is not allowed: %w", name, pgtenant.ErrValidation)
	}
	return nil
}

// ValidateAll validates several identifiers, stopping at the first failure.
func ValidateAll(names ...string) error {
	for _, n := range names {
		if err := ValidateIdentifier(n); err != nil {
			return err
		}
	}
	return nil
}

// DatabaseNameForSlug derives the tenant database name, e.g. "acme-co" -> "tenant_acme_co".
func DatabaseNameForSlug(slug string) (string, error) {
	if err := ValidateSlug(slug); err != nil {
		return "", err
	}
	name := namePrefix + strings.ReplaceAll(slug, "-", "_")
	return name, ValidateIdentifier(name)
}

// RoleNameForSlug derives the tenant login role, e.g. "acme-co" -> "tenant_acme_co_user".
func RoleNameForSlug(slug string) (string, error) {
	dbName, err := DatabaseNameForSlug(slug)
	if err != nil {
		return "", err
	}
	role := dbName + roleSuffix
	return role, ValidateIdentifier(role)
}
