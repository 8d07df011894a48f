// Package source loads data source definitions.
//
// A SourceDef describes a data source's external API (query keys, types,
// defaults and per-convention key translations) and its internal command
// graph. Definitions live under a source root either as native json
// documents (with // comments and $include merging, validated against an
// embedded JSON schema) or as legacy dsdf key/value files which are
// synthesized into the same structure.
//
// Lookup is case-insensitive per path segment while the returned LocalID
// keeps the on-disk spelling:
//
//	loader := source.NewLoader(cfg.Server.SourceRoot, cfg.IncludePath())
//	def, err := loader.Load("Examples/Random")
//	// def.LocalID == "examples/random"
//
// Templates are compiled once at load time; a SourceDef is immutable after
// Load returns and may be shared across requests.
package source
