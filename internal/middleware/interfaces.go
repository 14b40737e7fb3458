package middleware

import "context"

// LicenseChecker reports whether a valid license is currently loaded. A nil
// error means requests may proceed.
type LicenseChecker interface {
	CheckLicense(ctx context.Context) error
}
