package store

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep"
)

const (
	// InMemoryDSN opens an ephemeral database.
	InMemoryDSN = ":memory:"

	dirPermissions = 0o700
)

var gormConfig = &gorm.Config{
	Logger: logger.Default.LogMode(logger.Silent),
}

// ErrNotFound is returned when no context is stored under a session and role.
var ErrNotFound = errors.New("store: paused context not found")

// Store provides database access for paused contexts.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// Open opens (or creates) the SQLite database at dsn and migrates the schema.
// A plain file path gets its parent directory created.
func Open(dsn string, logger zerolog.Logger) (*Store, error) {
	if dsn != InMemoryDSN && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), dirPermissions); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000"
		}
	}
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open SQLite database")
	}
	if dsn == InMemoryDSN {
		// Every pooled connection would get its own in-memory database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.Wrap(err, "failed to access SQL handle")
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&PausedContext{}); err != nil {
		return nil, errors.Wrap(err, "failed to auto-migrate database schema")
	}
	return NewStore(db, logger), nil
}

// NewStore wraps an already migrated database.
func NewStore(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "context_store").Logger(),
	}
}

// NewSessionID returns a fresh identifier both parties use for one run.
func NewSessionID() string {
	return uuid.NewString()
}

// Pause serializes c and stores it under sessionID and c's role, replacing
// any earlier snapshot. pending is the message c produced that the
// counterpart has not received yet, if any.
func (s *Store) Pause(sessionID string, c *mpcstep.Context, pending []byte) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return errors.Wrapf(err, "invalid session id %q", sessionID)
	}
	data, err := c.MarshalBinary()
	if err != nil {
		return errors.Wrapf(err, "failed to serialize %s context", c.Kind())
	}
	defer mpcstep.ZeroizeBytes(data)

	row := PausedContext{
		SessionID: sessionID,
		Role:      uint8(c.Role()),
		Kind:      uint8(c.Kind()),
		Status:    StatusPaused,
		Data:      data,
		Pending:   pending,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var existing PausedContext
		err := tx.Where("session_id = ? AND role = ?", sessionID, row.Role).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&row).Error
		case err != nil:
			return err
		}
		if existing.Kind != row.Kind {
			return errors.Errorf("session %s holds a %s context", sessionID, mpcstep.OperationKind(existing.Kind))
		}
		return tx.Model(&existing).Updates(map[string]any{
			"status":    StatusPaused,
			"data":      data,
			"pending":   pending,
			"error_msg": "",
		}).Error
	})
	if err != nil {
		return errors.Wrapf(err, "failed to pause session %s", sessionID)
	}
	s.logger.Debug().
		Str("session_id", sessionID).
		Stringer("kind", c.Kind()).
		Stringer("role", c.Role()).
		Int("pending_bytes", len(pending)).
		Msg("context paused")
	return nil
}

// Resume loads the paused context of sessionID and role through lib and
// returns it with the pending outbound message stored alongside it. The row
// is marked RESUMED; pause it again or record the outcome once done.
func (s *Store) Resume(lib *mpcstep.Library, sessionID string, role mpcstep.Role) (*mpcstep.Context, []byte, error) {
	row, err := s.Get(sessionID, role)
	if err != nil {
		return nil, nil, err
	}
	if row.Status != StatusPaused {
		return nil, nil, errors.Errorf("session %s role %s is %s, not %s", sessionID, role, row.Status, StatusPaused)
	}
	defer mpcstep.ZeroizeBytes(row.Data)

	c, err := lib.LoadContext(row.Data)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to load session %s", sessionID)
	}
	if uint8(c.Kind()) != row.Kind || c.Role() != role {
		_ = c.Close()
		return nil, nil, errors.Errorf("session %s snapshot does not match its record", sessionID)
	}
	if err := s.setStatus(sessionID, role, StatusResumed, ""); err != nil {
		_ = c.Close()
		return nil, nil, err
	}
	s.logger.Debug().
		Str("session_id", sessionID).
		Stringer("kind", c.Kind()).
		Stringer("role", role).
		Msg("context resumed")
	return c, row.Pending, nil
}

// Get returns the stored row of sessionID and role.
func (s *Store) Get(sessionID string, role mpcstep.Role) (*PausedContext, error) {
	var row PausedContext
	err := s.db.Where("session_id = ? AND role = ?", sessionID, uint8(role)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "session %s role %s", sessionID, role)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query session %s", sessionID)
	}
	return &row, nil
}

// MarkFinished records that the context of sessionID and role completed and
// drops its snapshot.
func (s *Store) MarkFinished(sessionID string, role mpcstep.Role) error {
	return s.setStatus(sessionID, role, StatusFinished, "")
}

// MarkFailed records a failed run. The snapshot is dropped: a failed context
// cannot be resumed.
func (s *Store) MarkFailed(sessionID string, role mpcstep.Role, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.setStatus(sessionID, role, StatusFailed, msg)
}

func (s *Store) setStatus(sessionID string, role mpcstep.Role, status, errorMsg string) error {
	update := map[string]any{"status": status, "error_msg": errorMsg}
	if status == StatusFinished || status == StatusFailed {
		update["data"] = nil
		update["pending"] = nil
	}
	result := s.db.Model(&PausedContext{}).
		Where("session_id = ? AND role = ?", sessionID, uint8(role)).
		Updates(update)
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to update session %s", sessionID)
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(ErrNotFound, "session %s role %s", sessionID, role)
	}
	return nil
}

// List returns rows with the given status, newest first. An empty status
// lists every row.
func (s *Store) List(status string, limit int) ([]PausedContext, error) {
	var rows []PausedContext
	query := s.db.Select("id", "created_at", "updated_at", "session_id", "role", "kind", "status", "error_msg").
		Order("updated_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to list contexts with status %q", status)
	}
	return rows, nil
}

// ResetResumed returns RESUMED rows to PAUSED. Call it on startup: a process
// that crashed after Resume left its last snapshot intact.
func (s *Store) ResetResumed() (int64, error) {
	result := s.db.Model(&PausedContext{}).
		Where("status = ?", StatusResumed).
		Update("status", StatusPaused)
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to reset RESUMED contexts")
	}
	if result.RowsAffected > 0 {
		s.logger.Info().
			Int64("reset_count", result.RowsAffected).
			Msg("reset RESUMED contexts to PAUSED")
	}
	return result.RowsAffected, nil
}

// Purge deletes finished and failed rows.
func (s *Store) Purge() (int64, error) {
	result := s.db.Unscoped().
		Where("status IN ?", []string{StatusFinished, StatusFailed}).
		Delete(&PausedContext{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to purge completed contexts")
	}
	s.logger.Info().
		Int64("deleted_count", result.RowsAffected).
		Msg("purged completed contexts")
	return result.RowsAffected, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "failed to access SQL handle")
	}
	return sqlDB.Close()
}
