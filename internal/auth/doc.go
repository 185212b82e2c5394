// Package auth implements HTTP Basic authentication with PBKDF2
// password verification and a per-address failure ledger that locks
// out brute-force sources.
package auth
