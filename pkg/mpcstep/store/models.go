// Package store persists paused contexts in SQLite through GORM, so one
// party can stop between rounds and resume in a later process.
//
// Serialized contexts carry share material. The database file must be
// protected like a key share file.
package store

import (
	"gorm.io/gorm"
)

const (
	StatusPaused   = "PAUSED"
	StatusResumed  = "RESUMED"
	StatusFinished = "FINISHED"
	StatusFailed   = "FAILED"
)

// PausedContext is one party's serialized context of one session.
type PausedContext struct {
	gorm.Model
	SessionID string `gorm:"uniqueIndex:idx_session_role;not null"` // Shared by both parties of a run
	Role      uint8  `gorm:"uniqueIndex:idx_session_role;not null"`
	Kind      uint8  `gorm:"index;not null"`
	Status    string `gorm:"index;not null"`
	Data      []byte // Context.MarshalBinary output, empty once finished
	Pending   []byte // Outbound message not yet delivered to the counterpart
	ErrorMsg  string `gorm:"type:text"`
}

// TableName specifies the table name for PausedContext.
func (PausedContext) TableName() string {
	return "paused_contexts"
}
