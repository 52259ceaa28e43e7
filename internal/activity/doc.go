// Log is the writer side (one per instance this process owns); Reader is
// the watermark-tracking reader side (one per SD, shared across every
// other instance's file). See activity.go.
package activity
