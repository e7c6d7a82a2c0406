package models

import "time"

// User is the profile record consulted for the sidebar and last-seen updates.
// Credentials and login flows live in the auth service, not here.
type User struct {
	ID         int64      `db:"id" json:"id"`
	FullName   string     `db:"full_name" json:"full_name"`
	Email      string     `db:"email" json:"email"`
	ProfilePic string     `db:"profile_pic" json:"profile_pic,omitempty"`
	Bio        string     `db:"bio" json:"bio,omitempty"`
	LastSeen   *time.Time `db:"last_seen" json:"last_seen,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}
