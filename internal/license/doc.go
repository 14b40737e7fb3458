// Package license is the license validation core. It verifies sproto
// licenses, enforces their semantics and answers feature and item lookups
// for the calling firmware or service.
//
// # Architecture Overview
//
// The core consists of several components:
//
//   - Core: initialization, key material, locking and the public API
//   - License: a handle over one license buffer with a verified marker
//   - Signature pipeline: AES-OMAC and RSA (Abreast-DM) verification with
//     algorithm fallback and a single-slot RSA cache
//   - Validity pipeline: version, signature, capability, node-lock and
//     update-counter checks
//   - Lookup: find item, find feature, license info and consumption
//   - Health and metrics for the service that embeds the core
//
// # Validation Flow
//
// Every lookup funnels through the validity pipeline first:
//
//  1. Check the header: two zero bytes, then the minimum core version
//  2. Verify the first signature whose algorithm has a key, falling back
//     to the next one on key or signature failures
//  3. Check that the core provides every capability the license requires
//  4. Check the node-lock fingerprint when the license carries one
//  5. Compare the update counter with the persisted one
//
// Steps 1 to 4 run once per handle; the handle remembers the result.
//
// # Usage
//
//	core, err := license.New(license.Options{
//		Keys:         []license.Key{{Algorithm: license.AlgAES, Scope: license.ScopeSign, Material: key}},
//		Capabilities: license.CapAES | license.CapClock,
//	})
//	if err != nil {
//		return err
//	}
//	if err := core.Init(ctx); err != nil {
//		return err
//	}
//	lic := core.NewLicense(buf)
//	var fc license.FeatureContext
//	if err := core.FindFeature(ctx, lic, 7, sproto.First, &fc); err != nil {
//		return err
//	}
//	err = core.StartConsume(ctx, &fc)
//
// # Concurrency
//
// Lookups and verification share a read lock; PrepareLicenseUpdate takes
// the write lock. Initialization has its own mutex. All parse state lives
// in caller owned scopes, so handles may be used from several goroutines.
package license
