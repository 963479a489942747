// Package event defines the immutable event record that is the single source
// of truth for grove, along with the open payload model carried by each event.
//
// This package contains the wire model only. Every other internal package
// imports event; event imports nothing internal.
//
// Key design constraints:
//   - Events are never mutated after acceptance; corrections are new events
//   - Replay order is the client timestamp, never arrival or server order
//   - Payload fields are a sealed tagged union; an absent key is distinct
//     from an explicit empty value
//   - All JSON tags use lowerCamelCase to keep historical exports readable
package event
