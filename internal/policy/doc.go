// Package policy holds the role hierarchy of a room and the rule deciding which
// privileged actions a participant may issue against another.
//
// The relay enforces these rules authoritatively. Clients evaluate the same
// functions only to decide which controls to offer.
package policy
