// Package config loads grove's runtime configuration.
//
// Settings come from three layers, later layers winning: built-in defaults,
// an optional YAML file, then GROVE_* environment variables. The resource
// economy is configured separately in CUE, decoded over derive.DefaultRules
// and checked against a closed schema so that a typo in a rule name fails
// loudly instead of silently diverging from other devices.
package config
