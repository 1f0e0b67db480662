// Package tapir holds the target-independent half of Tapir lowering:
// the Target and LoopOutlineProcessor contracts, task and loop outlining,
// exit enumeration and the per-unit driver that calls the target hooks.
//
// Lowering runs in two phases over one module. The loop phase outlines
// every Tapir loop a target claims through its LoopOutlineProcessor. The
// task phase outlines the remaining detached regions into helpers, turns
// their call sites into runtime spawns and lowers syncs and grainsize
// queries. A Target instance belongs to a single module.
package tapir
