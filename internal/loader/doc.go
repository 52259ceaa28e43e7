// Loader.Load is the only entry point; see loader.go. It is a function of
// the filesystem: apart from moving a corrupt file into the quarantine
// directory it never writes, so calling it twice in a row with no
// intervening writes must yield identical state vectors
// (spec.md §8 invariant 4, covered by TestLoadIsIdempotent).
package loader
