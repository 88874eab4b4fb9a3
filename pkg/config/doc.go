// Package config loads service configuration.
//
// Values come from three layers, later layers winning:
//
//  1. Default()
//  2. an optional YAML file named by SSO_CONFIG_FILE
//  3. SSO_* environment variables
//
// Watch re-reads the YAML file on change; the service uses it to adjust the
// log level at runtime.
package config
