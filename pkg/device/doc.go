// Package device defines the device data model shared across the pool:
// handles identifying devices reported by the debug bridge, the test device
// state machine, selection criteria for allocation, and the per-device
// state monitor used to wait for responsiveness transitions.
package device
