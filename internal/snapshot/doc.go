// Manager and Info are the exported types; see snapshot.go for WriteSnapshot
// (the incomplete-then-complete durability dance) and GC (dominance-based
// log deletion).
package snapshot
