// See observer_base.go for the subscription-id-keyed callback list
// DocumentSnapshot uses to implement observe(fn) without the observer
// owning the document, and doccache.go for DocumentSnapshot itself.
package doccache
