package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/example/shuttle-bot/internal/models"
)

// Postgres backs all stores with a single database/sql pool.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func mapErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrAlreadyExists
	}
	return err
}

// Rides

func (p *Postgres) Create(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO rides(id, status, driver_id, current_stop_id, next_stop_id, timer_started, arrived_at, departed_at, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.ID, r.Status, r.DriverID, r.CurrentStopID, r.NextStopID, r.TimerStarted, r.ArrivedAt, r.DepartedAt, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ride: %w", mapErr(err))
	}
	return nil
}

func (p *Postgres) GetByID(ctx context.Context, id uuid.UUID) (*models.Ride, error) {
	return p.scanRide(p.db.QueryRowContext(ctx,
		`SELECT id, status, driver_id, current_stop_id, next_stop_id, timer_started, arrived_at, departed_at, created_at
		 FROM rides WHERE id=$1`, id))
}

func (p *Postgres) GetActiveByDriver(ctx context.Context, driverID int64) (*models.Ride, error) {
	return p.scanRide(p.db.QueryRowContext(ctx,
		`SELECT id, status, driver_id, current_stop_id, next_stop_id, timer_started, arrived_at, departed_at, created_at
		 FROM rides WHERE driver_id=$1 AND status=$2 ORDER BY created_at LIMIT 1`,
		driverID, models.RideInProgress))
}

func (p *Postgres) GetFirstByStatus(ctx context.Context, status models.RideStatus) (*models.Ride, error) {
	return p.scanRide(p.db.QueryRowContext(ctx,
		`SELECT id, status, driver_id, current_stop_id, next_stop_id, timer_started, arrived_at, departed_at, created_at
		 FROM rides WHERE status=$1 ORDER BY created_at LIMIT 1`, status))
}

func (p *Postgres) GetAllByStatus(ctx context.Context, status models.RideStatus) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, status, driver_id, current_stop_id, next_stop_id, timer_started, arrived_at, departed_at, created_at
		 FROM rides WHERE status=$1 ORDER BY created_at`, status)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []models.Ride
	for rows.Next() {
		var r models.Ride
		if err := rows.Scan(&r.ID, &r.Status, &r.DriverID, &r.CurrentStopID, &r.NextStopID, &r.TimerStarted, &r.ArrivedAt, &r.DepartedAt, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) Save(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE rides SET status=$1, current_stop_id=$2, next_stop_id=$3, timer_started=$4, arrived_at=$5, departed_at=$6 WHERE id=$7`,
		r.Status, r.CurrentStopID, r.NextStopID, r.TimerStarted, r.ArrivedAt, r.DepartedAt, r.ID)
	if err != nil {
		return fmt.Errorf("save ride: %w", mapErr(err))
	}
	return nil
}

func (p *Postgres) UpdateStops(ctx context.Context, rideID uuid.UUID, currentStopID *uuid.UUID, nextStopID uuid.UUID) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE rides SET current_stop_id=$1, next_stop_id=$2 WHERE id=$3`,
		currentStopID, nextStopID, rideID)
	if err != nil {
		return fmt.Errorf("update ride stops: %w", mapErr(err))
	}
	return nil
}

func (p *Postgres) scanRide(row *sql.Row) (*models.Ride, error) {
	var r models.Ride
	err := row.Scan(&r.ID, &r.Status, &r.DriverID, &r.CurrentStopID, &r.NextStopID, &r.TimerStarted, &r.ArrivedAt, &r.DepartedAt, &r.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

// Stops

type PostgresStops struct{ db *sql.DB }

func (p *Postgres) Stops() *PostgresStops { return &PostgresStops{db: p.db} }

func (s *PostgresStops) Create(ctx context.Context, st *models.Stop) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stops(id, name, latitude, longitude, stop_order, is_active) VALUES($1,$2,$3,$4,$5,$6)`,
		st.ID, st.Name, st.Latitude, st.Longitude, st.Order, st.IsActive)
	if err != nil {
		return fmt.Errorf("insert stop: %w", mapErr(err))
	}
	return nil
}

func (s *PostgresStops) GetByID(ctx context.Context, id uuid.UUID) (*models.Stop, error) {
	return scanStop(s.db.QueryRowContext(ctx,
		`SELECT id, name, latitude, longitude, stop_order, is_active FROM stops WHERE id=$1`, id))
}

func (s *PostgresStops) GetByName(ctx context.Context, name string) (*models.Stop, error) {
	return scanStop(s.db.QueryRowContext(ctx,
		`SELECT id, name, latitude, longitude, stop_order, is_active FROM stops WHERE name=$1`, name))
}

func (s *PostgresStops) GetByOrder(ctx context.Context, order int) (*models.Stop, error) {
	return scanStop(s.db.QueryRowContext(ctx,
		`SELECT id, name, latitude, longitude, stop_order, is_active FROM stops WHERE stop_order=$1`, order))
}

func (s *PostgresStops) GetActive(ctx context.Context) ([]models.Stop, error) {
	return s.list(ctx, `SELECT id, name, latitude, longitude, stop_order, is_active FROM stops WHERE is_active ORDER BY stop_order`)
}

func (s *PostgresStops) GetAll(ctx context.Context) ([]models.Stop, error) {
	return s.list(ctx, `SELECT id, name, latitude, longitude, stop_order, is_active FROM stops ORDER BY stop_order`)
}

func (s *PostgresStops) list(ctx context.Context, query string) ([]models.Stop, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []models.Stop
	for rows.Next() {
		var st models.Stop
		if err := rows.Scan(&st.ID, &st.Name, &st.Latitude, &st.Longitude, &st.Order, &st.IsActive); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *PostgresStops) Save(ctx context.Context, st *models.Stop) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE stops SET name=$1, latitude=$2, longitude=$3, stop_order=$4, is_active=$5 WHERE id=$6`,
		st.Name, st.Latitude, st.Longitude, st.Order, st.IsActive, st.ID)
	if err != nil {
		return fmt.Errorf("save stop: %w", mapErr(err))
	}
	return nil
}

func (s *PostgresStops) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stops WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete stop: %w", mapErr(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanStop(row *sql.Row) (*models.Stop, error) {
	var st models.Stop
	err := row.Scan(&st.ID, &st.Name, &st.Latitude, &st.Longitude, &st.Order, &st.IsActive)
	if err != nil {
		return nil, mapErr(err)
	}
	return &st, nil
}

// Tickets

type PostgresTickets struct{ db *sql.DB }

func (p *Postgres) Tickets() *PostgresTickets { return &PostgresTickets{db: p.db} }

func (t *PostgresTickets) Create(ctx context.Context, tk *models.Ticket) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO tickets(id, status, ride_id, stop_id, user_id, payment_intent_id, created_at) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		tk.ID, tk.Status, tk.RideID, tk.StopID, tk.UserID, tk.PaymentIntentID, tk.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", mapErr(err))
	}
	return nil
}

func (t *PostgresTickets) GetByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	return scanTicket(t.db.QueryRowContext(ctx,
		`SELECT id, status, ride_id, stop_id, user_id, payment_intent_id, created_at FROM tickets WHERE id=$1`, id))
}

func (t *PostgresTickets) GetActiveByUser(ctx context.Context, userID int64) (*models.Ticket, error) {
	return scanTicket(t.db.QueryRowContext(ctx,
		`SELECT id, status, ride_id, stop_id, user_id, payment_intent_id, created_at
		 FROM tickets WHERE user_id=$1 AND status=$2 LIMIT 1`, userID, models.TicketPending))
}

func (t *PostgresTickets) UpdateStop(ctx context.Context, ticketID, stopID uuid.UUID) error {
	res, err := t.db.ExecContext(ctx, `UPDATE tickets SET stop_id=$1 WHERE id=$2`, stopID, ticketID)
	if err != nil {
		return fmt.Errorf("update ticket stop: %w", mapErr(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *PostgresTickets) ChangeStatus(ctx context.Context, ticketID uuid.UUID, status models.TicketStatus) error {
	res, err := t.db.ExecContext(ctx, `UPDATE tickets SET status=$1 WHERE id=$2`, status, ticketID)
	if err != nil {
		return fmt.Errorf("change ticket status: %w", mapErr(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *PostgresTickets) CountPendingAtStop(ctx context.Context, stopID uuid.UUID) (int, error) {
	var n int
	err := t.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tickets t JOIN rides r ON r.id = t.ride_id
		 WHERE t.stop_id=$1 AND t.status=$2 AND r.status=$3`,
		stopID, models.TicketPending, models.RideInProgress).Scan(&n)
	if err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}

func (t *PostgresTickets) GetNotBoarded(ctx context.Context, rideID, stopID uuid.UUID) ([]models.Ticket, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, status, ride_id, stop_id, user_id, payment_intent_id, created_at
		 FROM tickets WHERE ride_id=$1 AND stop_id=$2 AND status<>$3`,
		rideID, stopID, models.TicketBoarded)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []models.Ticket
	for rows.Next() {
		var tk models.Ticket
		if err := rows.Scan(&tk.ID, &tk.Status, &tk.RideID, &tk.StopID, &tk.UserID, &tk.PaymentIntentID, &tk.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, tk)
	}
	return out, rows.Err()
}

func (t *PostgresTickets) MarkAbsentNotBoarded(ctx context.Context, rideID, stopID uuid.UUID) error {
	_, err := t.db.ExecContext(ctx,
		`UPDATE tickets SET status=$1 WHERE ride_id=$2 AND stop_id=$3 AND status<>$4`,
		models.TicketAbsent, rideID, stopID, models.TicketBoarded)
	if err != nil {
		return fmt.Errorf("mark absent: %w", mapErr(err))
	}
	return nil
}

func scanTicket(row *sql.Row) (*models.Ticket, error) {
	var tk models.Ticket
	err := row.Scan(&tk.ID, &tk.Status, &tk.RideID, &tk.StopID, &tk.UserID, &tk.PaymentIntentID, &tk.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &tk, nil
}

// Users

type PostgresUsers struct{ db *sql.DB }

func (p *Postgres) Users() *PostgresUsers { return &PostgresUsers{db: p.db} }

func (u *PostgresUsers) Create(ctx context.Context, usr *models.User) error {
	_, err := u.db.ExecContext(ctx,
		`INSERT INTO users(id, full_name, nickname, role, is_active) VALUES($1,$2,$3,$4,$5)`,
		usr.ID, usr.FullName, usr.Nickname, usr.Role, usr.IsActive)
	if err != nil {
		return fmt.Errorf("insert user: %w", mapErr(err))
	}
	return nil
}

func (u *PostgresUsers) GetByID(ctx context.Context, id int64) (*models.User, error) {
	var usr models.User
	err := u.db.QueryRowContext(ctx,
		`SELECT id, full_name, nickname, role, is_active FROM users WHERE id=$1`, id).
		Scan(&usr.ID, &usr.FullName, &usr.Nickname, &usr.Role, &usr.IsActive)
	if err != nil {
		return nil, mapErr(err)
	}
	return &usr, nil
}

func (u *PostgresUsers) GetAll(ctx context.Context) ([]models.User, error) {
	return u.list(ctx, `SELECT id, full_name, nickname, role, is_active FROM users ORDER BY id`)
}

func (u *PostgresUsers) GetByRide(ctx context.Context, rideID uuid.UUID) ([]models.User, error) {
	rows, err := u.db.QueryContext(ctx,
		`SELECT DISTINCT u.id, u.full_name, u.nickname, u.role, u.is_active
		 FROM users u JOIN tickets t ON t.user_id = u.id WHERE t.ride_id=$1`, rideID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

func (u *PostgresUsers) list(ctx context.Context, query string) ([]models.User, error) {
	rows, err := u.db.QueryContext(ctx, query)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

func collectUsers(rows *sql.Rows) ([]models.User, error) {
	var out []models.User
	for rows.Next() {
		var usr models.User
		if err := rows.Scan(&usr.ID, &usr.FullName, &usr.Nickname, &usr.Role, &usr.IsActive); err != nil {
			return nil, err
		}
		out = append(out, usr)
	}
	return out, rows.Err()
}

func (u *PostgresUsers) Save(ctx context.Context, usr *models.User) error {
	_, err := u.db.ExecContext(ctx,
		`UPDATE users SET full_name=$1, nickname=$2, role=$3, is_active=$4 WHERE id=$5`,
		usr.FullName, usr.Nickname, usr.Role, usr.IsActive, usr.ID)
	if err != nil {
		return fmt.Errorf("save user: %w", mapErr(err))
	}
	return nil
}

func (u *PostgresUsers) Delete(ctx context.Context, id int64) error {
	res, err := u.db.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", mapErr(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
