// Package shared holds code used across packages that belongs to no single
// layer. Its testutil subpackage provides signed license fixtures and a
// buffering slog handler for log assertions.
package shared
