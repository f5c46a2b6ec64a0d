// Package config loads rowfarm settings from defaults, a YAML file, environment
// variables and command-line overrides, in increasing order of precedence.
package config
