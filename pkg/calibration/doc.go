// Package calibration maps the absolute step position of the transport to
// logical page numbers. It contains:
//
//   - Entry: one calibrated page and the step position it starts at
//   - Map: the ordered set of entries plus the current position, with
//     marking, navigation deltas, reset and clear
//   - Document: the persisted form of a Map, encoded as JSON or YAML and
//     validated against a schema before it is loaded
//
// A Map is not safe for concurrent use. The session that owns it serializes
// access.
package calibration
