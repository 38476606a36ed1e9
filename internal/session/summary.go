package session

import (
	"github.com/google/uuid"

	"github.com/sbdcnet/attendance-reconciler/internal/pkg/logger"
)

// Summary is the per-run record handed to the surrounding reporting layer.
type Summary struct {
	RunID       string `json:"run_id"`
	WebinarID   string `json:"webinar_id"`
	WebinarDate string `json:"webinar_date"`

	SessionRows         int `json:"session_rows"`
	SessionUniqueEmails int `json:"session_unique_emails"`
	InvalidEmailRows    int `json:"invalid_email_rows"`

	AttendanceBefore      int `json:"attendance_before"`
	AttendanceAfter       int `json:"attendance_after"`
	AttendanceAdded       int `json:"attendance_added"`
	AttendanceOverwritten int `json:"attendance_overwritten"`

	PeopleBefore   int `json:"people_before"`
	PeopleAfter    int `json:"people_after"`
	PeopleNew      int `json:"people_new"`
	PeopleEnriched int `json:"people_enriched"`

	CollisionGroups    int `json:"collision_groups"`
	CollisionRows      int `json:"collision_rows"`
	CollisionNewGroups int `json:"collision_new_groups"`
}

// NewSummary stamps a fresh run ID.
func NewSummary(webinarID, webinarDate string) *Summary {
	return &Summary{
		RunID:       uuid.NewString(),
		WebinarID:   webinarID,
		WebinarDate: webinarDate,
	}
}

// Log emits the summary as one structured entry.
func (s *Summary) Log() {
	logger.Info("run summary",
		"run_id", s.RunID,
		"webinar_id", s.WebinarID,
		"webinar_date", s.WebinarDate,
		"session_rows", s.SessionRows,
		"session_unique_emails", s.SessionUniqueEmails,
		"invalid_email_rows", s.InvalidEmailRows,
		"attendance_before", s.AttendanceBefore,
		"attendance_added", s.AttendanceAdded,
		"attendance_overwritten", s.AttendanceOverwritten,
		"attendance_after", s.AttendanceAfter,
		"people_before", s.PeopleBefore,
		"people_new", s.PeopleNew,
		"people_enriched", s.PeopleEnriched,
		"people_after", s.PeopleAfter,
		"collision_groups", s.CollisionGroups,
		"collision_rows", s.CollisionRows,
		"collision_new_groups", s.CollisionNewGroups,
	)
}
