// DocumentSnapshot is the only exported type from this file's perspective;
// see doccache.go for ApplyLocal/ApplyRemote/EncodeState/StateVector/
// Observe, and observer_base.go for the callback-list mechanics behind
// Observe.
package doccache
