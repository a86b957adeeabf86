package model

// ScheduleEntry is one work-schedule window as served by /api/schedules.
// DayOfWeek uses the server convention: 0=Monday .. 6=Sunday.
type ScheduleEntry struct {
	DayOfWeek int    `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// ActiveRecordStatus is the body of /api/active_record.
type ActiveRecordStatus struct {
	HasActiveRecord bool `json:"has_active_record"`
}
