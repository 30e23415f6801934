// Package lifecycle enforces the hardware status state machine.
//
// The transition table is fixed:
//
//	discovered   -> provisioning, offline, retired
//	provisioning -> online, offline, discovered
//	online       -> degraded, offline, maintenance
//	degraded     -> online, offline, maintenance
//	offline      -> online, degraded, maintenance, retired
//	maintenance  -> online, offline, retired
//	retired      -> (terminal)
//
// Machine.Transition applies one step to a record under an exclusive
// per-record lock. A second transition on the same record while the first is
// in flight fails at once with ErrContention, which callers may retry.
// Illegal steps fail with a *TransitionError wrapping ErrInvalidTransition and
// leave the record untouched.
package lifecycle
