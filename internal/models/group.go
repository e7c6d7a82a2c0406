package models

import "time"

// Group represents a chat group. Membership lives in group_members and is the
// durable record; live room membership is a separate, connection-scoped view.
type Group struct {
	ID         int64     `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	GroupImage string    `db:"group_image" json:"group_image,omitempty"`
	CreatedBy  int64     `db:"created_by" json:"created_by"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
