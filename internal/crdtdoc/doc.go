// Document is the only exported type; see crdtdoc.go.
package crdtdoc
