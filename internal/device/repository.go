package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sscm-labs/sscm-relay/internal/deviceid"
)

// Repository defines device persistence. Each call is atomic.
type Repository interface {
	// FindByDeviceID returns ErrDeviceNotFound if the device has no record.
	FindByDeviceID(ctx context.Context, id deviceid.ID) (*Device, error)

	// List returns every device ordered by id.
	List(ctx context.Context) ([]Device, error)

	// ListPairedBy returns the devices paired by one admin.
	ListPairedBy(ctx context.Context, adminID string) ([]Device, error)

	// Upsert creates the device if absent and applies the non-nil fields.
	Upsert(ctx context.Context, id deviceid.ID, fields Fields) (*Device, error)

	// UpdatePaired replaces the pairing columns of an existing device.
	// Returns ErrDeviceNotFound if the device does not exist.
	UpdatePaired(ctx context.Context, id deviceid.ID, state PairedState) (*Device, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `
	SELECT device_id, paired, pairing_code, paired_at, paired_by,
		cam_device_id, cam_synced, last_seen, created_at, updated_at
	FROM devices`

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// FindByDeviceID retrieves a device by its id.
func (r *SQLiteRepository) FindByDeviceID(ctx context.Context, id deviceid.ID) (*Device, error) {
	return findDevice(ctx, r.db, id)
}

func findDevice(ctx context.Context, q queryer, id deviceid.ID) (*Device, error) {
	d, err := scanDevice(q.QueryRowContext(ctx, selectColumns+" WHERE device_id = ?", id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device %s: %w", id, err)
	}
	return d, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx, selectColumns+" ORDER BY device_id")
}

// ListPairedBy retrieves the devices an admin has paired.
func (r *SQLiteRepository) ListPairedBy(ctx context.Context, adminID string) ([]Device, error) {
	return r.queryDevices(ctx, selectColumns+" WHERE paired = 1 AND paired_by = ? ORDER BY device_id", adminID)
}

// Upsert creates or partially updates a device in one transaction.
func (r *SQLiteRepository) Upsert(ctx context.Context, id deviceid.ID, fields Fields) (*Device, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	now := time.Now().UTC()

	current, err := findDevice(ctx, tx, id)
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		current = &Device{DeviceID: id, CreatedAt: now}
		mergeFields(current, fields)
		current.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			INSERT INTO devices (device_id, paired, pairing_code, paired_at, paired_by,
				cam_device_id, cam_synced, last_seen, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id.String(), boolToInt(current.Paired), nullableString(current.PairingCode),
			nullableTime(current.PairedAt), nullableString(current.PairedBy),
			nullableID(current.CamDeviceID), boolToInt(current.CamSynced), nullableTime(current.LastSeen),
			formatTime(now), formatTime(now),
		)
		if err != nil {
			return nil, fmt.Errorf("inserting device %s: %w", id, err)
		}
	case err != nil:
		return nil, err
	default:
		mergeFields(current, fields)
		current.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			UPDATE devices
			SET pairing_code = ?, cam_device_id = ?, cam_synced = ?, last_seen = ?, updated_at = ?
			WHERE device_id = ?`,
			nullableString(current.PairingCode), nullableID(current.CamDeviceID),
			boolToInt(current.CamSynced), nullableTime(current.LastSeen), formatTime(now),
			id.String(),
		)
		if err != nil {
			return nil, fmt.Errorf("updating device %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing upsert: %w", err)
	}
	return current, nil
}

// mergeFields applies the non-nil fields. A paired device never takes a code.
func mergeFields(d *Device, f Fields) {
	if f.PairingCode != nil && !d.Paired {
		d.PairingCode = copyPtr(f.PairingCode)
	}
	if f.CamDeviceID != nil {
		d.CamDeviceID = copyPtr(f.CamDeviceID)
	}
	if f.CamSynced != nil {
		d.CamSynced = *f.CamSynced
	}
	if f.LastSeen != nil {
		t := f.LastSeen.UTC()
		d.LastSeen = &t
	}
}

// UpdatePaired sets paired, pairing_code, paired_at and paired_by together.
func (r *SQLiteRepository) UpdatePaired(ctx context.Context, id deviceid.ID, state PairedState) (*Device, error) {
	if err := state.Validate(); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		UPDATE devices
		SET paired = ?, pairing_code = ?, paired_at = ?, paired_by = ?, updated_at = ?
		WHERE device_id = ?`,
		boolToInt(state.Paired), nullableString(state.PairingCode),
		nullableTime(state.PairedAt), nullableString(state.PairedBy), formatTime(now),
		id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("updating pairing of %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	} else if n == 0 {
		return nil, ErrDeviceNotFound
	}

	d, err := findDevice(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing pairing update: %w", err)
	}
	return d, nil
}

func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var (
		d                            Device
		rawID                        string
		paired, camSynced            int
		pairingCode, pairedBy, camID sql.NullString
		pairedAt, lastSeen           sql.NullString
		createdAt, updatedAt         string
	)

	if err := scanner.Scan(&rawID, &paired, &pairingCode, &pairedAt, &pairedBy,
		&camID, &camSynced, &lastSeen, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	id, err := deviceid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("stored device id: %w", err)
	}
	d.DeviceID = id
	d.Paired = paired == 1
	d.CamSynced = camSynced == 1

	if pairingCode.Valid {
		d.PairingCode = &pairingCode.String
	}
	if pairedBy.Valid {
		d.PairedBy = &pairedBy.String
	}
	if camID.Valid {
		cam, err := deviceid.Parse(camID.String)
		if err != nil {
			return nil, fmt.Errorf("stored camera id: %w", err)
		}
		d.CamDeviceID = &cam
	}
	d.PairedAt = parseNullableTime(pairedAt)
	d.LastSeen = parseNullableTime(lastSeen)
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // Format is controlled
	d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt) //nolint:errcheck // Format is controlled

	return &d, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullableID(id *deviceid.ID) sql.NullString {
	if id == nil || id.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
