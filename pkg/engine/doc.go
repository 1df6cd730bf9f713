// Package engine is the Stagehand orchestration core. It evaluates
// tasks against hosts through the module registry (Executor) and runs
// plays across their expanded target hosts (Orchestrator), tracking
// per-task outcomes, firing notified handlers at most once per host,
// and aggregating per-play counts.
//
// The engine consumes already-built playbook and inventory values; it
// parses nothing and opens no connections. Per-task and per-module
// failures are always recovered into FAILED results and reported
// through normal aggregation. Only inventory lookup errors and
// structural play errors propagate to the caller.
package engine
