/*
Package ncslog provides structured logging for the NoteCove sync engine
using zerolog.

A single global Logger is configured once via Init and every other package
logs through it, attaching sd/note/instance fields to each event (the With*
helpers build such a scoped child logger in one call) so that a
single log line can be correlated back to the exact (sdId, noteId,
instanceId) it concerns — useful when debugging a reload that spans several
storage directories.

Usage:

	ncslog.Init(ncslog.Config{Level: ncslog.InfoLevel, JSONOutput: true})
	log := ncslog.WithSD(sdID).With().Str("note_id", noteID).Logger()
	log.Info().Msg("reload converged")
*/
package ncslog
