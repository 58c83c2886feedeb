// Package codec encodes and decodes attribute values between Go values and
// storable placeholders.
//
// The insert and update engines call the codec once per attribute. Encoding
// produces a placeholder fragment plus the driver value to bind; a value
// that falls back to the column default produces a literal fragment with
// nothing to bind.
//
// Supported attribute classes:
//   - UUID: stored as a 16-byte blob
//   - blob: canonical JSON with NFC-normalized strings
//   - attachment: filename + NUL + file contents in one payload
//   - numeric: empty and NaN inputs fall back to the declared default
package codec
