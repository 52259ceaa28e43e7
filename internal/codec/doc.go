// See log.go for the .crdtlog framing, snapshot.go for the .snapshot
// header and vector clock encoding, and activity.go for the plain-text
// activity line format.
package codec
