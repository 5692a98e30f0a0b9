package attendance

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// EnsureSchema creates the attendance table and its tenant index when they
// are missing.
func EnsureSchema(ctx context.Context, db bun.IDB) error {
	if _, err := db.NewCreateTable().Model((*Record)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("attendance: create table: %w", err)
	}
	_, err := db.NewCreateIndex().
		Model((*Record)(nil)).
		Index("attendance_records_tenant_idx").
		Column("tenant_id", "check_in").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("attendance: create index: %w", err)
	}
	return nil
}
