// Package watch implements spec.md §4.8 C9: the two signal sources that
// feed the reload pipeline — an fsnotify watcher on notes/*/logs,
// notes/*/snapshots, and activity/, debounced per path, plus a periodic
// poll backstop for filesystems (network shares, cloud-sync FUSE layers)
// that don't deliver reliable notifications.
//
// Grounded on launix-de-memcp's use of github.com/fsnotify/fsnotify for
// config-file reload (watch a directory, react to Write/Create) and
// pkg/reconciler/reconciler.go's time.Ticker backstop-loop idiom, adapted
// from one global reconciliation tick to a per-SD poll of the activity
// directory. Lib: github.com/fsnotify/fsnotify.
package watch
