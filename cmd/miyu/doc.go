// Package main hosts the miyu CLI entrypoint and command graph.
//
// The Cobra command tree wires configuration, logging, the capture source,
// the feature extractor and the backend client into the get and make flows,
// and exposes device listing, dependency checks and configuration
// scaffolding. Behaviour lives in the internal packages; commands here only
// assemble them and handle terminal interaction.
package main
