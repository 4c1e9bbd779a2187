package eventlog

// Summary aggregates the records of an event log.
type Summary struct {
	TotalRecords int
	ByKind       map[Kind]int
	Events       int   // executed events recorded
	FirstEvent   int64 // number of the first recorded event, 0 if none
	LastEvent    int64 // number of the last recorded event, 0 if none
	LastTime     int64 // largest record time in ticks
	Components   int   // distinct components named by records
	LogLines     int
	Messages     int // scheduled, cancelled and sent message records
}

// Summarize computes aggregate counts over records.
// Safe for nil or empty input (returns zero-value fields).
func Summarize(records []Record) *Summary {
	summary := &Summary{
		ByKind: make(map[Kind]int),
	}
	components := make(map[string]bool)
	for _, r := range records {
		summary.TotalRecords++
		summary.ByKind[r.Kind]++
		if r.T > summary.LastTime {
			summary.LastTime = r.T
		}
		if r.Component != "" {
			components[r.Component] = true
		}
		switch r.Kind {
		case KindEvent:
			if summary.Events == 0 {
				summary.FirstEvent = r.Event
			}
			summary.Events++
			summary.LastEvent = r.Event
		case KindLogLine:
			summary.LogLines++
		case KindMessageScheduled, KindMessageCancelled, KindMessageSent:
			summary.Messages++
		}
	}
	summary.Components = len(components)
	return summary
}
