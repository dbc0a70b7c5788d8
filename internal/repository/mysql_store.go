package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/parking-lot-allocation/internal/model"
)

// MySQLStore persists the fleet in MySQL.  Lots live in the lots table
// and their occupants in lot_occupants, which carries an index on
// vehicle_id so FindLotByOccupant is a point lookup.  The hierarchy is
// stored in attendants/attendant_lots and coordinators/
// coordinator_attendants with an explicit position column to keep the
// configured order.  All timestamps are UTC.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore returns a store bound to the given database.
func NewMySQLStore(db *sql.DB) *MySQLStore { return &MySQLStore{db: db} }

// DB exposes the underlying handle for health checks.
func (r *MySQLStore) DB() *sql.DB { return r.db }

const lotColumns = `id, capacity, is_full, version, created_at, updated_at`

func scanLot(sc interface{ Scan(...any) error }) (*model.Lot, error) {
	var l model.Lot
	if err := sc.Scan(&l.ID, &l.Capacity, &l.IsFull, &l.Version, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.Occupants = []model.Occupant{}
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return &l, nil
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// CreateLot inserts a lot unless one with the same id already exists.
func (r *MySQLStore) CreateLot(ctx context.Context, id string, capacity int) error {
	if capacity <= 0 {
		return ErrInvalidCapacity
	}
	_, err := r.db.ExecContext(ctx, `INSERT IGNORE INTO lots (id, capacity) VALUES (?, ?)`, id, capacity)
	if err != nil {
		return fmt.Errorf("MySQLStore.CreateLot: %w", err)
	}
	return nil
}

// CreateAttendant inserts an attendant and its ordered lot list.  An
// existing attendant is left as it is.
func (r *MySQLStore) CreateAttendant(ctx context.Context, a model.Attendant) error {
	return r.createParent(ctx, "attendants", "attendant_lots", "attendant_id", "lot_id", a.ID, a.Name, a.LotIDs)
}

// CreateCoordinator inserts a coordinator and its ordered attendant list.
// An existing coordinator is left as it is.
func (r *MySQLStore) CreateCoordinator(ctx context.Context, c model.Coordinator) error {
	return r.createParent(ctx, "coordinators", "coordinator_attendants", "coordinator_id", "attendant_id", c.ID, c.Name, c.AttendantIDs)
}

func (r *MySQLStore) createParent(ctx context.Context, table, linkTable, parentCol, childCol, id, name string, children []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("MySQLStore.create %s: %w", table, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `INSERT IGNORE INTO `+table+` (id, name) VALUES (?, ?)`, id, name)
	if err != nil {
		return fmt.Errorf("MySQLStore.create %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n > 0 && len(children) > 0 {
		query := `INSERT INTO ` + linkTable + ` (` + parentCol + `, ` + childCol + `, position) VALUES `
		args := make([]interface{}, 0, len(children)*3)
		for i, child := range children {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?)"
			args = append(args, id, child, i)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("MySQLStore.create %s (links): %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("MySQLStore.create %s (commit): %w", table, err)
	}
	committed = true
	return nil
}

// FindLotByID loads a lot together with its occupants.
func (r *MySQLStore) FindLotByID(ctx context.Context, id string) (*model.Lot, error) {
	lot, err := scanLot(r.db.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM lots WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLotNotFound
		}
		return nil, fmt.Errorf("MySQLStore.FindLotByID: %w", err)
	}
	if err := r.loadOccupants(ctx, map[string]*model.Lot{lot.ID: lot}); err != nil {
		return nil, err
	}
	return lot, nil
}

// FindLotsByIDs returns the lots for ids in the order given.  Unknown
// ids are skipped.
func (r *MySQLStore) FindLotsByIDs(ctx context.Context, ids []string) ([]*model.Lot, error) {
	if len(ids) == 0 {
		return []*model.Lot{}, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+lotColumns+` FROM lots WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("MySQLStore.FindLotsByIDs: %w", err)
	}
	byID, err := collectLots(rows)
	if err != nil {
		return nil, fmt.Errorf("MySQLStore.FindLotsByIDs: %w", err)
	}
	if err := r.loadOccupants(ctx, byID); err != nil {
		return nil, err
	}
	out := make([]*model.Lot, 0, len(byID))
	for _, id := range ids {
		if lot, ok := byID[id]; ok {
			out = append(out, lot)
		}
	}
	return out, nil
}

// FindAllLots returns every lot in provisioning order.
func (r *MySQLStore) FindAllLots(ctx context.Context) ([]*model.Lot, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+lotColumns+` FROM lots ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("MySQLStore.FindAllLots: %w", err)
	}
	defer rows.Close()
	var (
		out  []*model.Lot
		byID = make(map[string]*model.Lot)
	)
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("MySQLStore.FindAllLots (scanning row): %w", err)
		}
		out = append(out, lot)
		byID[lot.ID] = lot
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("MySQLStore.FindAllLots (rows error): %w", err)
	}
	if err := r.loadOccupants(ctx, byID); err != nil {
		return nil, err
	}
	return out, nil
}

func collectLots(rows *sql.Rows) (map[string]*model.Lot, error) {
	defer rows.Close()
	byID := make(map[string]*model.Lot)
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		byID[lot.ID] = lot
	}
	return byID, rows.Err()
}

// loadOccupants fills the occupant lists of the given lots in one query.
func (r *MySQLStore) loadOccupants(ctx context.Context, byID map[string]*model.Lot) error {
	if len(byID) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(byID))
	for id := range byID {
		args = append(args, id)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT lot_id, vehicle_id, parked_at FROM lot_occupants WHERE lot_id IN (`+placeholders(len(args))+`) ORDER BY lot_id, position`,
		args...)
	if err != nil {
		return fmt.Errorf("MySQLStore.loadOccupants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			lotID string
			o     model.Occupant
		)
		if err := rows.Scan(&lotID, &o.VehicleID, &o.ParkedAt); err != nil {
			return fmt.Errorf("MySQLStore.loadOccupants (scanning row): %w", err)
		}
		o.ParkedAt = o.ParkedAt.UTC()
		if lot, ok := byID[lotID]; ok {
			lot.Occupants = append(lot.Occupants, o)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("MySQLStore.loadOccupants (rows error): %w", err)
	}
	return nil
}

// FindLotByOccupant uses the vehicle_id index to find the lot currently
// holding the vehicle.
func (r *MySQLStore) FindLotByOccupant(ctx context.Context, vehicleID string) (*model.Lot, error) {
	var lotID string
	err := r.db.QueryRowContext(ctx, `SELECT lot_id FROM lot_occupants WHERE vehicle_id = ? LIMIT 1`, vehicleID).Scan(&lotID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLotNotFound
		}
		return nil, fmt.Errorf("MySQLStore.FindLotByOccupant: %w", err)
	}
	return r.FindLotByID(ctx, lotID)
}

// SaveLot writes the lot and its occupant list in one transaction.  The
// update is conditional on the version the caller read; when another
// writer got there first ErrVersionConflict is returned and nothing is
// written.
func (r *MySQLStore) SaveLot(ctx context.Context, lot *model.Lot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("MySQLStore.SaveLot: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE lots SET is_full = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		lot.IsFull, now, lot.ID, lot.Version)
	if err != nil {
		return fmt.Errorf("MySQLStore.SaveLot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionConflict
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM lot_occupants WHERE lot_id = ?`, lot.ID); err != nil {
		return fmt.Errorf("MySQLStore.SaveLot (clear occupants): %w", err)
	}
	if len(lot.Occupants) > 0 {
		query := `INSERT INTO lot_occupants (lot_id, vehicle_id, parked_at, position) VALUES `
		args := make([]interface{}, 0, len(lot.Occupants)*4)
		for i, o := range lot.Occupants {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?, ?)"
			args = append(args, lot.ID, o.VehicleID, o.ParkedAt.UTC(), i)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("MySQLStore.SaveLot (insert occupants): %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("MySQLStore.SaveLot (commit): %w", err)
	}
	committed = true
	lot.Version++
	lot.UpdatedAt = now
	return nil
}

// FindAttendantByID loads an attendant and its lots in configured order.
func (r *MySQLStore) FindAttendantByID(ctx context.Context, id string) (*model.Attendant, error) {
	var a model.Attendant
	err := r.db.QueryRowContext(ctx, `SELECT id, name FROM attendants WHERE id = ?`, id).Scan(&a.ID, &a.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttendantNotFound
		}
		return nil, fmt.Errorf("MySQLStore.FindAttendantByID: %w", err)
	}
	a.LotIDs, err = r.children(ctx, `SELECT lot_id FROM attendant_lots WHERE attendant_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("MySQLStore.FindAttendantByID: %w", err)
	}
	return &a, nil
}

// FindCoordinatorByID loads a coordinator and its attendants in
// configured order.
func (r *MySQLStore) FindCoordinatorByID(ctx context.Context, id string) (*model.Coordinator, error) {
	var c model.Coordinator
	err := r.db.QueryRowContext(ctx, `SELECT id, name FROM coordinators WHERE id = ?`, id).Scan(&c.ID, &c.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCoordinatorNotFound
		}
		return nil, fmt.Errorf("MySQLStore.FindCoordinatorByID: %w", err)
	}
	c.AttendantIDs, err = r.children(ctx, `SELECT attendant_id FROM coordinator_attendants WHERE coordinator_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("MySQLStore.FindCoordinatorByID: %w", err)
	}
	return &c, nil
}

func (r *MySQLStore) children(ctx context.Context, query, parentID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// InsertHistoryEntry appends a history row and sets e.ID.
func (r *MySQLStore) InsertHistoryEntry(ctx context.Context, e *model.HistoryEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO parking_history (vehicle_id, lot_id, action, created_at) VALUES (?, ?, ?, ?)`,
		e.VehicleID, e.LotID, string(e.Action), e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("MySQLStore.InsertHistoryEntry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("MySQLStore.InsertHistoryEntry: %w", err)
	}
	e.ID = uint64(id)
	return nil
}

// FindHistoryEntries returns matching entries newest first.
func (r *MySQLStore) FindHistoryEntries(ctx context.Context, f HistoryFilter) ([]model.HistoryEntry, error) {
	query := `SELECT id, vehicle_id, lot_id, action, created_at FROM parking_history`
	var (
		where []string
		args  []interface{}
	)
	if f.VehicleID != "" {
		where = append(where, "vehicle_id = ?")
		args = append(args, f.VehicleID)
	}
	if f.LotID != "" {
		where = append(where, "lot_id = ?")
		args = append(args, f.LotID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("MySQLStore.FindHistoryEntries: %w", err)
	}
	defer rows.Close()
	out := []model.HistoryEntry{}
	for rows.Next() {
		var (
			e      model.HistoryEntry
			action string
		)
		if err := rows.Scan(&e.ID, &e.VehicleID, &e.LotID, &action, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("MySQLStore.FindHistoryEntries (scanning row): %w", err)
		}
		e.Action = model.Action(action)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("MySQLStore.FindHistoryEntries (rows error): %w", err)
	}
	return out, nil
}
