package websocket

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Recorder keeps a bounded per-session log of frames seen live.
type Recorder struct {
	mu        sync.RWMutex
	sessions  map[string]*RecordedSession
	maxFrames int
}

// RecordedSession contains the recorded frames of one session.
type RecordedSession struct {
	Name          string          `json:"name"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time,omitempty"`
	Frames        []RecordedFrame `json:"frames"`
	TotalSent     int             `json:"total_sent"`
	TotalReceived int             `json:"total_received"`
	Dropped       int             `json:"dropped,omitempty"`
	Active        bool            `json:"active"`
}

// NewRecorder creates a recorder keeping at most maxFrames per session.
func NewRecorder(maxFrames int) *Recorder {
	if maxFrames <= 0 {
		maxFrames = 1000
	}
	return &Recorder{
		sessions:  make(map[string]*RecordedSession),
		maxFrames: maxFrames,
	}
}

// StartSession starts (or restarts) recording a session.
func (r *Recorder) StartSession(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[name] = newSession(name)
}

func newSession(name string) *RecordedSession {
	return &RecordedSession{
		Name:      name,
		StartTime: time.Now(),
		Frames:    make([]RecordedFrame, 0),
		Active:    true,
	}
}

// EndSession marks a session finished.
func (r *Recorder) EndSession(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, exists := r.sessions[name]; exists {
		session.EndTime = time.Now()
		session.Active = false
	}
}

// Record appends f to the session, creating it if needed. Frames beyond the
// limit are counted but not kept.
func (r *Recorder) Record(name string, f RecordedFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[name]
	if !exists {
		session = newSession(name)
		r.sessions[name] = session
	}

	if f.Direction == ToServer {
		session.TotalSent++
	} else {
		session.TotalReceived++
	}

	if len(session.Frames) >= r.maxFrames {
		session.Dropped++
		return
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	session.Frames = append(session.Frames, f)
}

// GetSession returns a copy of a session, or nil.
func (r *Recorder) GetSession(name string) *RecordedSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if session, exists := r.sessions[name]; exists {
		return session.clone()
	}
	return nil
}

func (s *RecordedSession) clone() *RecordedSession {
	c := *s
	c.Frames = append([]RecordedFrame(nil), s.Frames...)
	return &c
}

// Sessions returns copies of all sessions ordered by start time.
func (r *Recorder) Sessions() []*RecordedSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*RecordedSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session.clone())
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].StartTime.Equal(sessions[j].StartTime) {
			return sessions[i].StartTime.Before(sessions[j].StartTime)
		}
		return sessions[i].Name < sessions[j].Name
	})
	return sessions
}

// ActiveSessions returns the names of sessions still recording.
func (r *Recorder) ActiveSessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0)
	for name, session := range r.sessions {
		if session.Active {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Clear clears all recorded sessions.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]*RecordedSession)
}

// Stats returns recorder statistics.
func (r *Recorder) Stats() RecorderStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RecorderStats{TotalSessions: len(r.sessions)}
	for _, session := range r.sessions {
		stats.TotalFrames += len(session.Frames)
		stats.Dropped += session.Dropped
		for _, f := range session.Frames {
			stats.TotalBytes += int64(f.Size)
		}
		if session.Active {
			stats.ActiveSessions++
		}
	}
	return stats
}

// RecorderStats contains recorder statistics.
type RecorderStats struct {
	TotalSessions  int   `json:"total_sessions"`
	ActiveSessions int   `json:"active_sessions"`
	TotalFrames    int   `json:"total_frames"`
	TotalBytes     int64 `json:"total_bytes"`
	Dropped        int   `json:"dropped"`
}

// ExportJSON exports all sessions as JSON.
func (r *Recorder) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(r.Sessions(), "", "  ")
}

// Analyze summarizes the frames of one session, or returns nil.
func (r *Recorder) Analyze(name string) *SessionAnalysis {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[name]
	if !exists {
		return nil
	}

	analysis := &SessionAnalysis{
		Name:          name,
		FrameCount:    len(session.Frames),
		SentCount:     session.TotalSent,
		ReceivedCount: session.TotalReceived,
		Opcodes:       make(map[string]int),
	}

	if len(session.Frames) == 0 {
		return analysis
	}

	totalSize := 0
	analysis.MinSize = session.Frames[0].Size

	for _, f := range session.Frames {
		analysis.Opcodes[f.Opcode]++
		totalSize += f.Size

		if f.Size > analysis.MaxSize {
			analysis.MaxSize = f.Size
		}
		if f.Size < analysis.MinSize {
			analysis.MinSize = f.Size
		}
		if f.Truncated {
			analysis.Truncated++
		}
	}

	analysis.AverageSize = totalSize / len(session.Frames)
	return analysis
}

// SessionAnalysis contains per-session frame statistics.
type SessionAnalysis struct {
	Name          string         `json:"name"`
	FrameCount    int            `json:"frame_count"`
	SentCount     int            `json:"sent_count"`
	ReceivedCount int            `json:"received_count"`
	Opcodes       map[string]int `json:"opcodes"`
	AverageSize   int            `json:"average_size"`
	MaxSize       int            `json:"max_size"`
	MinSize       int            `json:"min_size"`
	Truncated     int            `json:"truncated"`
}
