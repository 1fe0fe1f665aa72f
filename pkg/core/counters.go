package core

// Counters are job-level tallies. Only successful attempts contribute, so
// retried tasks are not counted twice.
type Counters struct {
	RecordsRead    int64 `json:"records_read"`
	RecordsSkipped int64 `json:"records_skipped"`
	MapOutputs     int64 `json:"map_outputs"`
	Spills         int64 `json:"spills"`
	CombineInputs  int64 `json:"combine_inputs"`
	CombineOutputs int64 `json:"combine_outputs"`
	ReduceGroups   int64 `json:"reduce_groups"`
	ReduceInputs   int64 `json:"reduce_inputs"`
	OutputRecords  int64 `json:"output_records"`
}

func (c *Counters) Add(other Counters) {
	c.RecordsRead += other.RecordsRead
	c.RecordsSkipped += other.RecordsSkipped
	c.MapOutputs += other.MapOutputs
	c.Spills += other.Spills
	c.CombineInputs += other.CombineInputs
	c.CombineOutputs += other.CombineOutputs
	c.ReduceGroups += other.ReduceGroups
	c.ReduceInputs += other.ReduceInputs
	c.OutputRecords += other.OutputRecords
}

// LogArgs flattens the counters into slog key-value pairs.
func (c Counters) LogArgs() []any {
	return []any{
		"records_read", c.RecordsRead,
		"records_skipped", c.RecordsSkipped,
		"map_outputs", c.MapOutputs,
		"spills", c.Spills,
		"combine_inputs", c.CombineInputs,
		"combine_outputs", c.CombineOutputs,
		"reduce_groups", c.ReduceGroups,
		"reduce_inputs", c.ReduceInputs,
		"output_records", c.OutputRecords,
	}
}
