package models

import "fmt"

// CourseGroup is the (institution, course, term) key shared by subscriptions
// that can be served by one external lookup.
type CourseGroup struct {
	Institution string `json:"institution"`
	Course      string `json:"course"`
	Term        string `json:"term"`
}

// String renders the group for logs.
func (g CourseGroup) String() string {
	return fmt.Sprintf("%s:%s:%s", g.Institution, g.Term, g.Course)
}

// CourseData is the seat availability payload returned by the course source.
type CourseData struct {
	Sections []Section `json:"sections"`
}

// Section is one offering of a course.
type Section struct {
	ID        string    `json:"id"`
	Available int       `json:"available"`
	Capacity  int       `json:"capacity"`
	Meetings  []Meeting `json:"meetings,omitempty"`
}

// Meeting is a nested meeting (lab, discussion) with its own seat counts.
type Meeting struct {
	ID        string `json:"id"`
	Available int    `json:"available"`
	Capacity  int    `json:"capacity"`
}

// Availability is the evaluated seat count for one subscription.
type Availability struct {
	Available int `json:"available"`
	Total     int `json:"total"`
}
