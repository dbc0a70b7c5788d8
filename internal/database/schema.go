package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the fleet tables.  Statements are idempotent so Migrate
// can run on every start.
//
// lot_occupants.vehicle_id is indexed but deliberately not unique: a
// vehicle appearing in two lots is prevented by the allocator, not the
// database.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS lots (
		id         VARCHAR(64)     NOT NULL,
		capacity   INT UNSIGNED    NOT NULL,
		is_full    TINYINT(1)      NOT NULL DEFAULT 0,
		version    BIGINT UNSIGNED NOT NULL DEFAULT 0,
		created_at DATETIME(6)     NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at DATETIME(6)     NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		PRIMARY KEY (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS lot_occupants (
		lot_id     VARCHAR(64)  NOT NULL,
		vehicle_id VARCHAR(64)  NOT NULL,
		parked_at  DATETIME(6)  NOT NULL,
		position   INT UNSIGNED NOT NULL,
		PRIMARY KEY (lot_id, vehicle_id),
		KEY idx_lot_occupants_vehicle (vehicle_id),
		CONSTRAINT fk_lot_occupants_lot FOREIGN KEY (lot_id) REFERENCES lots (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS attendants (
		id   VARCHAR(64)  NOT NULL,
		name VARCHAR(128) NOT NULL DEFAULT '',
		PRIMARY KEY (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS attendant_lots (
		attendant_id VARCHAR(64)  NOT NULL,
		lot_id       VARCHAR(64)  NOT NULL,
		position     INT UNSIGNED NOT NULL,
		PRIMARY KEY (attendant_id, position),
		CONSTRAINT fk_attendant_lots_attendant FOREIGN KEY (attendant_id) REFERENCES attendants (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS coordinators (
		id   VARCHAR(64)  NOT NULL,
		name VARCHAR(128) NOT NULL DEFAULT '',
		PRIMARY KEY (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS coordinator_attendants (
		coordinator_id VARCHAR(64)  NOT NULL,
		attendant_id   VARCHAR(64)  NOT NULL,
		position       INT UNSIGNED NOT NULL,
		PRIMARY KEY (coordinator_id, position),
		CONSTRAINT fk_coordinator_attendants_coordinator FOREIGN KEY (coordinator_id) REFERENCES coordinators (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS parking_history (
		id         BIGINT UNSIGNED        NOT NULL AUTO_INCREMENT,
		vehicle_id VARCHAR(64)            NOT NULL,
		lot_id     VARCHAR(64)            NOT NULL,
		action     ENUM('PARK', 'UNPARK') NOT NULL,
		created_at DATETIME(6)            NOT NULL,
		PRIMARY KEY (id),
		KEY idx_history_vehicle (vehicle_id, created_at),
		KEY idx_history_lot (lot_id, created_at),
		KEY idx_history_created (created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate applies the schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("database.Migrate (statement %d): %w", i, err)
		}
	}
	return nil
}
