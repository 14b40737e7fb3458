// Package services implements the business logic of the license daemon.
// It sits between the HTTP handlers and the license core.
//
// # Services
//
//   - LicenseService: owns the license in service. It loads and reloads
//     the license file, admits replacements through the core's update
//     pipeline, describes the license contents and tracks consumption
//     sessions against each product's concurrency limit.
//   - HealthService: liveness, readiness and the full component health
//     check of the core, with runtime statistics.
//
// # License replacement
//
// A replacement is admitted when:
//
//	prev updatable           -> core.PrepareLicenseUpdate(prev, next)
//	prev absent or fixed     -> core.CheckValidity(next, persistence)
//	next counter unrecorded  -> core.PrepareLicenseUpdate(nil, next) first
//
// Rejected replacements leave the previous license in service. Updates
// received over HTTP are written to the license file, with the previous
// file kept as a backup; the file watcher then sees identical contents and
// does nothing.
//
// # Sessions
//
// A session pairs a FeatureContext with a UUID. Sessions survive license
// reloads and are always closable, so a client holding a session can
// release it after the license changed.
package services
