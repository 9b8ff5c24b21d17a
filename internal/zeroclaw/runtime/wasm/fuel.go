package wasm

import "time"

// fuelToDuration converts an instruction-count fuel budget into a
// wall-clock execution deadline. wazero has no built-in per-instruction
// fuel counter (unlike the Rust original's wasmi-backed interpreter), so
// fuel is enforced here as a calibrated wall-clock budget via
// RuntimeConfig.WithCloseOnContextDone: the module is force-closed when the
// derived deadline passes, and the trap is reported as fuel exhaustion.
// fuelPerNanosecond is a conservative estimate of interpreted-WASM
// throughput; it only needs to be in the right order of magnitude since
// the safety ceiling is what actually bounds worst-case runaway loops.
const fuelPerNanosecond = 2

func fuelToDuration(fuel uint64) time.Duration {
	if fuel == 0 {
		return 0
	}
	nanos := fuel / fuelPerNanosecond
	if nanos == 0 {
		nanos = 1
	}
	return time.Duration(nanos) * time.Nanosecond
}

// fuelConsumedForElapsed estimates fuel consumed from elapsed wall-clock
// time, capped at budget so a slow host never reports consuming more fuel
// than was allotted.
func fuelConsumedForElapsed(elapsed time.Duration, budget uint64) uint64 {
	consumed := uint64(elapsed.Nanoseconds()) * fuelPerNanosecond
	if consumed > budget {
		return budget
	}
	return consumed
}
