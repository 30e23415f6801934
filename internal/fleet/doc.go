// Package fleet implements the fleet sync loop.
//
// An Orchestrator walks every configured manufacturer, pulls the vendor's
// device list, resolves and classifies each report against local
// inventory, and applies the outcome:
//
//   - new reports become records that are driven from discovered to online
//   - duplicate and moved reports update the matched record, status untouched
//   - conflicts are queued for an operator and never merged automatically
//
// Records not reported for longer than the stale window are taken offline.
//
// A failure inside one manufacturer is counted against that manufacturer
// only; a failure on one device is counted against that device only.
package fleet
