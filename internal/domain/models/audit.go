package models

import "time"

// AuditEntry records one mutating action against the store
type AuditEntry struct {
	ID        int64     `json:"id" db:"id"`
	ActorHash string    `json:"actor_hash" db:"actor_hash"`
	Action    string    `json:"action" db:"action"`
	Entity    string    `json:"entity" db:"entity"`
	Detail    string    `json:"detail,omitempty" db:"detail"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
