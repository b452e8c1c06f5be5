// Package config loads, normalizes, and validates miyu configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// MIYU_API_URL and MIN_PASSCODE_LENGTH. Configuration is read once at startup
// and passed explicitly to the components that need it; nothing here is
// reloaded while a session runs.
package config
