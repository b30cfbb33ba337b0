package project

import "errors"

var (
	errInvalidBehavior      = errors.New("unknown unauthorized behavior")
	errInvalidRole          = errors.New("unknown required role")
	errInvalidQuotaBehavior = errors.New("unknown quota behavior")
	errNegativeQuota        = errors.New("storage quota must be non-negative")
)

// ValidSlug reports whether s is safe to embed in storage keys and public
// URLs: non-empty, lowercase alphanumerics, '-', '_', and '.', and not "."
// or "..".
func ValidSlug(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return false
		}
	}
	return true
}

// Validate checks the project's enum fields and slugs. It is called by
// stores and by the admin API before persisting.
func (p *Project) Validate() error {
	if !ValidSlug(p.Owner) || !ValidSlug(p.Name) {
		return ErrInvalidSlug
	}
	if !p.UnauthorizedBehavior.Valid() {
		return errInvalidBehavior
	}
	if !p.RequiredRole.Valid() {
		return errInvalidRole
	}
	if p.QuotaBehavior != "" && p.QuotaBehavior != QuotaBlock && p.QuotaBehavior != QuotaNotify {
		return errInvalidQuotaBehavior
	}
	if p.StorageQuotaBytes != nil && *p.StorageQuotaBytes < 0 {
		return errNegativeQuota
	}
	return nil
}
