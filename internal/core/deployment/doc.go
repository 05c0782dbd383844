// Package deployment provides pure functions for deployment orchestration
// decisions.
//
// This package contains the functional core logic behind the lifecycle
// controller: slot naming, endpoint construction, retention selection, and
// rollback candidate selection. All functions are pure (no I/O, no side
// effects).
//
// # Functions
//
//   - Naming: stable slot and resource names (SlotName, VolumeName)
//   - Endpoint: externally reachable URL for a running deployment (Endpoint)
//   - Retention: split records into retained and evicted (SplitByRetention)
//   - Rollback: pick the current and previous running deployments (PlanRollback)
//
// # Usage
//
// The imperative shell (internal/shell/deploy) composes these pure functions
// into orchestration steps, then executes them via the runtime adapter.
//
//	slot := deployment.SlotName(projectID)
//	endpoint := deployment.Endpoint(host, ports)
//	retained, evicted := deployment.SplitByRetention(records, keepCount)
package deployment
