// Store is the only exported type; see notestore.go. Crash-recovery
// rewind logic is covered by notestore_test.go's TestWriteUpdateRewindsPartialTail.
package notestore
