package attendance

// =============================================================================
// SEQUENCE RESOLVER - Derive the only valid next event type
// =============================================================================

// NextType returns the only valid type for an employee's next event given
// their most recent persisted event. With no prior event the employee is
// off-site and the next event must be an arrival; otherwise the type strictly
// alternates.
//
// This is the whole of the per-employee state machine:
//
//	OUTSIDE --arrival--> INSIDE
//	INSIDE --departure--> OUTSIDE
//
// State is derived purely from the last persisted event, so it is always
// reconstructible from the log.
func NextType(last *AttendanceEvent) EventType {
	if last == nil {
		return EventArrival
	}
	return last.Type.Opposite()
}

// OnSite reports whether the employee is currently inside a branch given
// their most recent event.
func OnSite(last *AttendanceEvent) bool {
	return last != nil && last.Type == EventArrival
}
