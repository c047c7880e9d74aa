/*
Package report computes operator-facing aggregates from the attendance log.

PURPOSE:
  Everything here is a pure projection over immutable events: who is on-site
  right now and for how long, per-day and per-branch activity, late arrivals,
  and worked hours from arrival/departure pairing. Nothing in this package
  writes.

PRECISION:
  Worked-hour totals use decimal.Decimal so exported payroll hours do not
  accumulate float drift across many small durations.

SEE ALSO:
  - attendance: Event types and the log contract
  - period.go: Report date ranges
*/
package report

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/presence-engine/attendance"
)

// DefaultLateThreshold is the local time of day after which an arrival
// counts as late.
var DefaultLateThreshold = Clock{Hour: 9}

// Clock is a time of day.
type Clock struct {
	Hour   int
	Minute int
}

// =============================================================================
// PRESENCE ROSTER - Who is on-site right now
// =============================================================================

// PresenceEntry is one on-site employee: where they are and since when.
type PresenceEntry struct {
	Employee  attendance.Employee
	Branch    attendance.Branch
	Since     time.Time
	OnSiteFor time.Duration
}

// Roster returns the employees currently on-site, derived from each
// employee's last event, ordered by longest on-site first. events must be in
// chronological order.
func Roster(events []attendance.AttendanceEvent, branches []attendance.Branch, employees []attendance.Employee, now time.Time) []PresenceEntry {
	lastByEmployee := make(map[attendance.EmployeeID]attendance.AttendanceEvent)
	for _, ev := range events {
		lastByEmployee[ev.EmployeeID] = ev
	}

	branchByID := make(map[attendance.BranchID]attendance.Branch, len(branches))
	for _, b := range branches {
		branchByID[b.ID] = b
	}
	employeeByID := make(map[attendance.EmployeeID]attendance.Employee, len(employees))
	for _, e := range employees {
		employeeByID[e.ID] = e
	}

	var roster []PresenceEntry
	for id, last := range lastByEmployee {
		if last.Type != attendance.EventArrival {
			continue
		}
		// Check-in does not require an employee record; keep the id from the
		// event when no record exists.
		employee, ok := employeeByID[id]
		if !ok {
			employee = attendance.Employee{ID: id}
		}
		roster = append(roster, PresenceEntry{
			Employee:  employee,
			Branch:    branchByID[last.BranchID],
			Since:     last.Timestamp,
			OnSiteFor: now.Sub(last.Timestamp),
		})
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].Since.Before(roster[j].Since) })
	return roster
}

// =============================================================================
// SUMMARY - Range aggregates for the reports screen
// =============================================================================

// Options tunes summary computation.
type Options struct {
	// LateThreshold is the local time of day after which an arrival is late.
	// Zero value means DefaultLateThreshold.
	LateThreshold Clock

	// TopEmployees caps the per-employee activity list. Zero means 10.
	TopEmployees int
}

// DayCount is event volume for one calendar day.
type DayCount struct {
	Day   string // YYYY-MM-DD
	Count int
}

// BranchCount is event volume for one branch.
type BranchCount struct {
	BranchID attendance.BranchID
	Name     string
	Count    int
}

// EmployeeActivity is per-employee event volume and worked time.
type EmployeeActivity struct {
	EmployeeID  attendance.EmployeeID
	Name        string
	EventCount  int
	WorkedHours decimal.Decimal
}

// Summary is the aggregate view over a date range.
type Summary struct {
	TotalEmployees   int
	TotalEvents      int
	DailyAverage     decimal.Decimal
	MostActiveBranch string
	ByDay            []DayCount
	ByBranch         []BranchCount
	ByEmployee       []EmployeeActivity
	LateArrivalsByDay []DayCount
}

// Summarize computes the aggregate view over events in [from, to]. events
// must be chronological; branch/employee slices supply display names.
func Summarize(events []attendance.AttendanceEvent, branches []attendance.Branch, employees []attendance.Employee, from, to time.Time, opts Options) Summary {
	threshold := opts.LateThreshold
	if threshold == (Clock{}) {
		threshold = DefaultLateThreshold
	}
	topN := opts.TopEmployees
	if topN == 0 {
		topN = 10
	}

	branchName := make(map[attendance.BranchID]string, len(branches))
	for _, b := range branches {
		branchName[b.ID] = b.Name
	}
	employeeName := make(map[attendance.EmployeeID]string, len(employees))
	for _, e := range employees {
		employeeName[e.ID] = e.Name
	}

	byDay := make(map[string]int)
	byBranch := make(map[attendance.BranchID]int)
	byEmployee := make(map[attendance.EmployeeID]int)
	lateByDay := make(map[string]int)

	for _, ev := range events {
		day := ev.Timestamp.Format("2006-01-02")
		byDay[day]++
		byBranch[ev.BranchID]++
		byEmployee[ev.EmployeeID]++

		if ev.Type == attendance.EventArrival && isLate(ev.Timestamp, threshold) {
			lateByDay[day]++
		}
	}

	worked := WorkedHours(events)

	s := Summary{
		TotalEmployees: len(employees),
		TotalEvents:    len(events),
	}

	days := daysBetween(from, to)
	if days < 1 {
		days = 1
	}
	s.DailyAverage = decimal.NewFromInt(int64(len(events))).
		DivRound(decimal.NewFromInt(int64(days)), 2)

	for day, count := range byDay {
		s.ByDay = append(s.ByDay, DayCount{Day: day, Count: count})
	}
	sort.Slice(s.ByDay, func(i, j int) bool { return s.ByDay[i].Day < s.ByDay[j].Day })

	for id, count := range byBranch {
		name := branchName[id]
		if name == "" {
			name = string(id)
		}
		s.ByBranch = append(s.ByBranch, BranchCount{BranchID: id, Name: name, Count: count})
	}
	sort.Slice(s.ByBranch, func(i, j int) bool { return s.ByBranch[i].Count > s.ByBranch[j].Count })
	if len(s.ByBranch) > 0 {
		s.MostActiveBranch = s.ByBranch[0].Name
	}

	for id, count := range byEmployee {
		s.ByEmployee = append(s.ByEmployee, EmployeeActivity{
			EmployeeID:  id,
			Name:        employeeName[id],
			EventCount:  count,
			WorkedHours: worked[id],
		})
	}
	sort.Slice(s.ByEmployee, func(i, j int) bool {
		if s.ByEmployee[i].EventCount != s.ByEmployee[j].EventCount {
			return s.ByEmployee[i].EventCount > s.ByEmployee[j].EventCount
		}
		return s.ByEmployee[i].EmployeeID < s.ByEmployee[j].EmployeeID
	})
	if len(s.ByEmployee) > topN {
		s.ByEmployee = s.ByEmployee[:topN]
	}

	for day, count := range lateByDay {
		s.LateArrivalsByDay = append(s.LateArrivalsByDay, DayCount{Day: day, Count: count})
	}
	sort.Slice(s.LateArrivalsByDay, func(i, j int) bool {
		return s.LateArrivalsByDay[i].Day < s.LateArrivalsByDay[j].Day
	})

	return s
}

// WorkedHours pairs each departure with its preceding arrival per employee
// and sums the durations as decimal hours (2 places). An unmatched trailing
// arrival contributes nothing; the shift is still open.
func WorkedHours(events []attendance.AttendanceEvent) map[attendance.EmployeeID]decimal.Decimal {
	open := make(map[attendance.EmployeeID]time.Time)
	totals := make(map[attendance.EmployeeID]decimal.Decimal)

	for _, ev := range events {
		switch ev.Type {
		case attendance.EventArrival:
			open[ev.EmployeeID] = ev.Timestamp
		case attendance.EventDeparture:
			start, ok := open[ev.EmployeeID]
			if !ok {
				continue // departure whose arrival predates the range
			}
			delete(open, ev.EmployeeID)
			hours := decimal.NewFromFloat(ev.Timestamp.Sub(start).Hours()).Round(2)
			totals[ev.EmployeeID] = totals[ev.EmployeeID].Add(hours)
		}
	}
	return totals
}

func isLate(t time.Time, threshold Clock) bool {
	h, m := t.Hour(), t.Minute()
	return h > threshold.Hour || (h == threshold.Hour && m > threshold.Minute)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours()/24) + 1
}
