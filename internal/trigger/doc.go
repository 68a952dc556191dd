// Package trigger implements the detection latch that pulses output
// variables on the controller.
//
// When a detection arrives while the controller's trigger variable is high
// and no pulse is outstanding, the latch writes true to every output. Once
// the controller echoes the signal variable back, the latch writes false and
// re-arms. Unset variables read as inactive.
package trigger
