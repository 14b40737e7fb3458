// Package security holds the cryptographic primitives of the license core.
//
// Hashing:
//   - DaviesMeyer: single block length AES-128 hash, used for device
//     fingerprints and for the signature cache content hash.
//   - AbreastDM: double block length AES-256 hash over the signed part of a
//     license, the input to RSA verification.
//
// Signing:
//   - OMAC / VerifyOMAC: AES-128 OMAC1 tags for symmetric licenses.
//   - VerifyRSA / SignRSA: PKCS#1 v1.5 over an Abreast-DM digest, with the
//     SHA-256 wrapping that older license versions use.
//
// Device binding:
//   - Fingerprint blobs ("fitF" magic, algorithm id, hash) and the
//     DeviceIDSource that supplies raw device id bytes.
//
// Key storage:
//   - KeyFile: vendor keys sealed with AES-256-GCM under a scrypt derived
//     key.
//
// All comparisons of secret or authenticated data go through
// SecureCompare and run in constant time.
package security
