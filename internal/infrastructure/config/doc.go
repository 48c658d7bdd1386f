// Package config provides configuration management for bridgemux.
//
// Configuration is loaded from a YAML file with environment variable
// overrides for deployment-specific and secret values. Loading order:
//
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BRIDGEMUX_SECTION_KEY
// For example: BRIDGEMUX_LOG_LEVEL, BRIDGEMUX_TELEMETRY_TOKEN
//
// The configuration surface mirrors the two resource kinds the core
// manages: broker connections (url, transport kind, auto-connect and
// authentication settings) and the ambient logging/telemetry sections.
package config
