package devlog

// Log collects development and allocation records across a run.
type Log struct {
	Developments []DevelopmentRecord
	Allocations  []AllocationRecord
}

// New creates an empty Log ready for recording.
func New() *Log {
	return &Log{
		Developments: make([]DevelopmentRecord, 0),
		Allocations:  make([]AllocationRecord, 0),
	}
}

// RecordDevelopment appends a development record.
func (l *Log) RecordDevelopment(record DevelopmentRecord) {
	l.Developments = append(l.Developments, record)
}

// RecordAllocation appends an allocation record.
func (l *Log) RecordAllocation(record AllocationRecord) {
	l.Allocations = append(l.Allocations, record)
}

// DevelopmentsForYear returns the development records of one year, in posting order.
func (l *Log) DevelopmentsForYear(year int) []DevelopmentRecord {
	var out []DevelopmentRecord
	for _, r := range l.Developments {
		if r.Year == year {
			out = append(out, r)
		}
	}
	return out
}
