// Package engine implements spec.md §6's external API: the facade every
// other package (C1-C12) is wired up behind. Engine is the thing the CLI
// (and, in a real client, a UI layer) holds a single pointer to.
//
// Grounded on pkg/manager/manager.go's role in the teacher — a struct
// that owns every subsystem's constructor call and exposes the small set
// of cluster operations (propose, join, leave) the rest of the program
// actually calls — narrowed here from a raft-backed cluster facade down
// to register_sd/apply_local_update/read_state/observe_state and the
// rest of §6.
//
// noteId -> storage-directory resolution: §6's external operations take
// a bare noteId with no sd parameter, while every package below engine is
// keyed by (sd, note). Engine keeps a noteId->sdPath map, populated by
// scanning notes/ under each SD at register_sd time and updated by
// CreateNote for a note that doesn't exist on disk yet. This is additive
// to §6, not a change to it: CreateNote has no spec-mandated signature of
// its own, since the distilled spec assumes notes already exist when a
// client names them by id.
package engine
