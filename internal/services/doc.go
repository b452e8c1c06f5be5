// Package services defines the error markers shared by the capture, exchange
// and command layers.
//
// Wrap tags a failure with one of the exported markers so callers can decide,
// with errors.Is, whether the user should fix input (validation), fix the
// setup (configuration, external tool) or simply retry (transient).
package services
