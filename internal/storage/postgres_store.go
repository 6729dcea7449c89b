package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/example/ride-passenger/internal/models"
)

const schema = `CREATE TABLE IF NOT EXISTS ride_history (
	ride_id      TEXT PRIMARY KEY,
	passenger_id TEXT NOT NULL,
	status       TEXT NOT NULL,
	from_lat     DOUBLE PRECISION NOT NULL,
	from_lng     DOUBLE PRECISION NOT NULL,
	to_lat       DOUBLE PRECISION NOT NULL,
	to_lng       DOUBLE PRECISION NOT NULL,
	drop_name    TEXT NOT NULL DEFAULT '',
	fare         DOUBLE PRECISION NOT NULL,
	distance_km  DOUBLE PRECISION NOT NULL,
	finished_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ride_history_passenger_idx ON ride_history (passenger_id, finished_at DESC);`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating ride_history: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// SaveEntry upserts by ride id so journal replays are harmless.
func (p *PostgresStore) SaveEntry(ctx context.Context, e models.HistoryEntry) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO ride_history(ride_id, passenger_id, status, from_lat, from_lng, to_lat, to_lng, drop_name, fare, distance_km, finished_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (ride_id) DO UPDATE SET status=EXCLUDED.status, fare=EXCLUDED.fare, distance_km=EXCLUDED.distance_km, finished_at=EXCLUDED.finished_at`,
		e.RideID, e.PassengerID, string(e.Status), e.From.Lat, e.From.Lng, e.To.Lat, e.To.Lng, e.DropName, e.Fare, e.DistanceKm, e.FinishedAt)
	return err
}

func (p *PostgresStore) ListEntries(ctx context.Context, passengerID string, limit int) ([]models.HistoryEntry, error) {
	q := `SELECT ride_id, passenger_id, status, from_lat, from_lng, to_lat, to_lng, drop_name, fare, distance_km, finished_at
		FROM ride_history WHERE passenger_id=$1 ORDER BY finished_at DESC, ride_id`
	args := []any{passengerID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		var status string
		if err := rows.Scan(&e.RideID, &e.PassengerID, &status, &e.From.Lat, &e.From.Lng, &e.To.Lat, &e.To.Lng,
			&e.DropName, &e.Fare, &e.DistanceKm, &e.FinishedAt); err != nil {
			return nil, err
		}
		e.Status = models.RideStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }
