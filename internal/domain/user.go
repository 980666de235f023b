// Package domain contains entity without logic, just meta-data
package domain

// UserID is the opaque authenticated identity. The core never mints
// these itself; they arrive verified from the auth collaborator.
type UserID string
