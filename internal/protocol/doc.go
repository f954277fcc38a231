// Package protocol owns the storage command wire contract.
//
// Ownership boundary:
// - request line tokenization and formatting
// - response fragment encoding (ERR lines)
// - chunk frame primitives (see frame)
package protocol
