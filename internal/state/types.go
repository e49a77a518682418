package state

import "time"

// SessionInfo summarizes one stored capture session.
type SessionInfo struct {
	Name   string    `json:"name"`
	Frames int       `json:"frames"`
	First  time.Time `json:"first"`
	Last   time.Time `json:"last"`
}

// Stats counts what the manager accepted and dropped.
type Stats struct {
	Saved      int64 `json:"saved"`
	Duplicates int64 `json:"duplicates"`
	Errors     int64 `json:"errors"`
}
