package policy

import "errors"

// Role is the privilege level of a participant inside a room.
type Role string

const (
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Command is a privileged action issued through an admin-command envelope.
type Command string

const (
	CommandPromoteToAdmin  Command = "promote-to-admin"
	CommandDemoteAdmin     Command = "demote-admin"
	CommandMuteUser        Command = "mute-user"
	CommandDisableCamera   Command = "disable-camera"
	CommandStopScreenShare Command = "stop-screen-share"
	CommandKickUser        Command = "kick-user"
)

var (
	ErrUnauthorized   = errors.New("insufficient privileges")
	ErrUnknownCommand = errors.New("unknown command")
)

// Valid reports whether c is one of the known commands.
func (c Command) Valid() bool {
	switch c {
	case CommandPromoteToAdmin, CommandDemoteAdmin,
		CommandMuteUser, CommandDisableCamera, CommandStopScreenShare, CommandKickUser:
		return true
	}
	return false
}

// ChangesRole reports whether c grants or revokes the admin role.
func (c Command) ChangesRole() bool {
	return c == CommandPromoteToAdmin || c == CommandDemoteAdmin
}

// Resolve derives a participant's role. Role is never stored: it is always a
// function of the owner id and the admin set.
func Resolve(participantID, ownerID string, admins map[string]struct{}) Role {
	if participantID == ownerID {
		return RoleOwner
	}
	if _, ok := admins[participantID]; ok {
		return RoleAdmin
	}
	return RoleUser
}

// Privileged reports whether r may issue any privileged action at all.
func (r Role) Privileged() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Authorize decides whether actor may apply a disabling action (mute, camera,
// screen share, kick) to target. The owner is immune, including to itself.
// Admins may only act on plain users.
func Authorize(actor, target Role) bool {
	if target == RoleOwner {
		return false
	}
	switch actor {
	case RoleOwner:
		return true
	case RoleAdmin:
		return target == RoleUser
	default:
		return false
	}
}

// CanManageAdmins reports whether actor may grant or revoke the admin role.
func CanManageAdmins(actor Role) bool {
	return actor == RoleOwner
}

// Check validates cmd issued by actor against a target holding targetRole.
func Check(cmd Command, actor, targetRole Role) error {
	if !cmd.Valid() {
		return ErrUnknownCommand
	}
	if !actor.Privileged() {
		return ErrUnauthorized
	}
	if cmd.ChangesRole() {
		if !CanManageAdmins(actor) || targetRole == RoleOwner {
			return ErrUnauthorized
		}
		return nil
	}
	if !Authorize(actor, targetRole) {
		return ErrUnauthorized
	}
	return nil
}
