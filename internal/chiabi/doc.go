// Package chiabi lowers Tapir task parallelism onto the Chi runtime ABI.
//
// Target implements tapir.Target: spawning functions get a runtime stack
// frame that is entered once and left on every exit, detaches become
// calls to __rts_spawn and syncs become calls to __rts_sync. Tapir loops
// selected for offload are moved into a kernel module by a loop outline
// processor, rewritten to fetch their iteration from the runtime, and the
// serialized kernel module is embedded back into the host unit.
package chiabi
