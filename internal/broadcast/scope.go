package broadcast

import "classhub/pkg/types"

type audience int

const (
	audienceClass audience = iota
	audienceStudents
	audienceTeachers
	audienceConnection
)

// Scope selects the recipients of a broadcast within one class.
type Scope struct {
	ClassID  string
	audience audience
	ids      map[string]struct{}
}

// Class addresses every student of the class.
func Class(classID string) Scope {
	return Scope{ClassID: classID, audience: audienceClass}
}

// Students addresses the listed students of the class. Ids that are not
// connected are skipped.
func Students(classID string, studentIDs ...string) Scope {
	ids := make(map[string]struct{}, len(studentIDs))
	for _, id := range studentIDs {
		ids[id] = struct{}{}
	}
	return Scope{ClassID: classID, audience: audienceStudents, ids: ids}
}

// Teachers addresses every teacher connection of the class.
func Teachers(classID string) Scope {
	return Scope{ClassID: classID, audience: audienceTeachers}
}

// Connection addresses a single connection, used for direct replies.
func Connection(classID, connectionID string) Scope {
	return Scope{ClassID: classID, audience: audienceConnection, ids: map[string]struct{}{connectionID: {}}}
}

func (s Scope) match(p types.ParticipantInfo) bool {
	switch s.audience {
	case audienceClass:
		return p.Role == types.RoleStudent
	case audienceStudents:
		_, ok := s.ids[p.IdentityID]
		return ok && p.Role == types.RoleStudent
	case audienceTeachers:
		return p.Role == types.RoleTeacher
	case audienceConnection:
		_, ok := s.ids[p.ConnectionID]
		return ok
	}
	return false
}

func (s Scope) String() string {
	switch s.audience {
	case audienceClass:
		return "class"
	case audienceStudents:
		return "students"
	case audienceTeachers:
		return "teachers"
	default:
		return "connection"
	}
}
