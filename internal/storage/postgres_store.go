package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

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
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(id, rider_id, driver_id, pickup_lat, pickup_lon, pickup_address, dropoff_lat, dropoff_lon, dropoff_address, ride_type, payment_method, status, estimated_distance_km, estimated_fare, currency, requested_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		r.ID, r.RiderID, nullString(r.DriverID), r.Pickup.Lat, r.Pickup.Lon, r.Pickup.Address,
		r.Dropoff.Lat, r.Dropoff.Lon, r.Dropoff.Address, r.RideType, r.PaymentMethod,
		string(r.Status), r.EstimatedDistanceKm, r.EstimatedFare, r.Currency, r.RequestedAt, time.Now())
	return err
}

func (p *PostgresStore) UpdateRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `UPDATE rides SET driver_id=$1, status=$2, actual_distance_km=$3, updated_fare=$4, final_fare=$5, duration_minutes=$6, cancelled_by=$7, cancellation_reason=$8, updated_at=$9 WHERE id=$10`,
		nullString(r.DriverID), string(r.Status), r.ActualDistanceKm, r.UpdatedFare, r.FinalFare,
		r.DurationMinutes, nullString(r.CancelledBy), nullString(r.CancellationReason), time.Now(), r.ID)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, n *models.Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		payload = []byte("{}")
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO notifications(recipient_id, title, body, category, ride_id, payload, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)`,
		n.RecipientID, n.Title, n.Body, n.Category, nullString(n.RideID), payload, n.CreatedAt)
	return err
}

func (p *PostgresStore) MarkRead(ctx context.Context, recipientID, notificationID string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE notifications SET read_at=$1 WHERE id=$2 AND recipient_id=$3`,
		time.Now(), notificationID, recipientID)
	return err
}

func (p *PostgresStore) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE recipient_id=$1 AND read_at IS NULL`, recipientID).Scan(&n)
	return n, err
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
