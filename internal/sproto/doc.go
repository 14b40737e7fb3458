// Package sproto decodes the compact license encoding used by the
// license core.
//
// # Wire format
//
// A license buffer starts with a four byte header (two zero bytes, then the
// minimum core major and minor version) followed by the root object. Every
// object is encoded as
//
//	u16 n                 number of field descriptors
//	u16 d[0..n-1]         field descriptors
//	...                   data region
//
// A descriptor of 0 means the field value lives in the data region as a
// u32 length followed by that many bytes. An odd descriptor skips (d+1)/2
// schema fields that are absent from this license. Any other even
// descriptor is an inline integer with value d/2-1.
//
// Arrays are stored in the data region; their payload is a sequence of
// u32 length prefixed elements.
//
// # Reading
//
// License bytes may live in memory that is only reachable one byte at a
// time (flash, EEPROM), so all access goes through a ByteSource. Offsets and
// lengths taken from the license are always range checked with the Safe
// readers before use.
//
// # Walking
//
// The Walker enumerates fields depth first using an explicit Scope stack
// bounded by MaxLevel instead of recursion. A Scope records where a search
// stopped so it can be resumed, and can serve as a reference that confines
// a later search to one sub-tree.
package sproto
