// Package rbac decides what a caller may do with a document's threads.
package rbac

type Role string
type Action string

const (
	RoleNone      Role = ""
	RoleViewer    Role = "viewer"
	RoleCommenter Role = "commenter"
	RoleEditor    Role = "editor"
	RoleAdmin     Role = "admin"
)

const (
	// ActionRead lists threads and searches comments.
	ActionRead Action = "read"
	// ActionComment covers every thread, comment and anchor mutation.
	ActionComment Action = "comment"
	// ActionWrite updates document metadata such as the content size.
	ActionWrite Action = "write"
	ActionAdmin Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionComment || action == ActionWrite
	case RoleCommenter:
		return action == ActionRead || action == ActionComment
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleCommenter, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

// Resolve returns the caller's effective role on a document. The owner is
// always admin; otherwise the collaborator role applies, and a caller that is
// neither gets RoleNone.
func Resolve(ownerID, callerID, collaboratorRole string, isCollaborator bool) Role {
	if callerID == "" {
		return RoleNone
	}
	if ownerID == callerID {
		return RoleAdmin
	}
	if !isCollaborator {
		return RoleNone
	}
	return Normalize(collaboratorRole)
}
