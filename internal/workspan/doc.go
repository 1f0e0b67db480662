// Package workspan estimates how much work one iteration of a loop nest
// performs. The estimate is a profitability gate: large loops only need to
// be recognized as large, so accumulation saturates at MaxCost.
package workspan
