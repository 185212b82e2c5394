// Package covert implements the low-observability transport pieces:
// the XOR masking codec with HMAC-SHA256 integrity tags, the JSON
// upload envelope, and the per-run randomized verb alias table.
package covert
