package models

import "time"

// OverdueMarker replaces the remaining time once the SLA is used up.
const OverdueMarker = "OVERDUE"

// CaseView is a case plus the values computed at read time.
type CaseView struct {
	FraudCase
	TimeRemaining        string `json:"time_remaining"`
	TimeRemainingSeconds int64  `json:"time_remaining_seconds"`
	Overdue              bool   `json:"overdue"`
	EstimatedResolution  string `json:"estimated_resolution"`
}

// NewView snapshots c at now.
func NewView(c *FraudCase, now time.Time) *CaseView {
	remaining := c.TimeRemaining(now)
	v := &CaseView{
		FraudCase:            *c.Clone(),
		TimeRemainingSeconds: int64(remaining / time.Second),
		EstimatedResolution:  c.Priority.EstimatedResolution(),
	}
	if remaining <= 0 {
		v.TimeRemaining = OverdueMarker
		v.Overdue = true
	} else {
		v.TimeRemaining = remaining.Truncate(time.Second).String()
	}
	return v
}

// NewViews snapshots every case at the same instant.
func NewViews(cases []*FraudCase, now time.Time) []*CaseView {
	out := make([]*CaseView, len(cases))
	for i, c := range cases {
		out[i] = NewView(c, now)
	}
	return out
}
