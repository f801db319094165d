// Package security derives a read-only posture report from resolved engine
// settings. It performs no I/O and holds no state.
package security
