package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/cinema-seat-booking/internal/model"
)

// seedBatch bounds the number of rows per INSERT when seeding a showtime.
const seedBatch = 500

const reservationColumns = `id, showtime_id, seat_number, connection_id, reserved_at, payment_id, customer_email`

// SeatStore is the MySQL implementation of the reservation table and the
// seat ledger.  Every exported method is one atomic operation: either a
// single statement or a transaction whose reads are locking reads.
// Timestamps are written and compared in UTC.
type SeatStore struct {
	db *sqlx.DB
}

// NewSeatStore returns a SeatStore bound to the given database.
func NewSeatStore(db *sqlx.DB) *SeatStore { return &SeatStore{db: db} }

// withTx runs fn inside a transaction and commits when fn returns nil.
func (s *SeatStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// errRollback aborts a transaction without reporting a failure.
var errRollback = errors.New("rollback")

// InsertHold inserts the hold in a single statement.  INSERT IGNORE turns
// a duplicate (showtime_id, seat_number) into zero affected rows, and the
// NOT EXISTS clause refuses seats whose ledger row is booked or under
// maintenance.
func (s *SeatStore) InsertHold(ctx context.Context, showtimeID int64, seat int, connID string, at time.Time) (bool, error) {
	const q = `INSERT IGNORE INTO seat_reservations (showtime_id, seat_number, connection_id, reserved_at)
	           SELECT ?, ?, ?, ? FROM DUAL
	           WHERE NOT EXISTS (
	               SELECT 1 FROM seats
	               WHERE showtime_id = ? AND seat_number = ? AND status IN ('booked', 'maintenance')
	           )`
	res, err := s.db.ExecContext(ctx, q, showtimeID, seat, connID, at.UTC(), showtimeID, seat)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteHolds removes connID's holds on seats.  Holds owned by other
// connections are left untouched.
func (s *SeatStore) DeleteHolds(ctx context.Context, showtimeID int64, connID string, seats []int) (int64, error) {
	if len(seats) == 0 {
		return 0, nil
	}
	q, args, err := sqlx.In(
		`DELETE FROM seat_reservations WHERE showtime_id = ? AND connection_id = ? AND seat_number IN (?)`,
		showtimeID, connID, seats)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PromoteHolds deletes connID's live holds and books the seats in one
// transaction.  The delete must hit exactly one row per seat or the
// whole transaction is rolled back.
func (s *SeatStore) PromoteHolds(ctx context.Context, showtimeID int64, connID string, seats []int, liveSince time.Time) (bool, error) {
	if len(seats) == 0 {
		return false, nil
	}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		q, args, err := sqlx.In(
			`DELETE FROM seat_reservations
			 WHERE showtime_id = ? AND connection_id = ? AND reserved_at >= ? AND seat_number IN (?)`,
			showtimeID, connID, liveSince.UTC(), seats)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(q), args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != int64(len(seats)) {
			return errRollback
		}
		rows := make([]model.Seat, 0, len(seats))
		for _, seat := range seats {
			rows = append(rows, model.Seat{ShowtimeID: showtimeID, SeatNumber: seat, Status: model.SeatBooked})
		}
		return upsertSeats(ctx, tx, rows)
	})
	if errors.Is(err, errRollback) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteExpired removes and returns holds taken before the cutoff.  Rows
// locked by a concurrent book are skipped; the next sweep picks them up if
// they are still there.
func (s *SeatStore) DeleteExpired(ctx context.Context, before time.Time) ([]model.Reservation, error) {
	var out []model.Reservation
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var rows []model.Reservation
		q := `SELECT ` + reservationColumns + ` FROM seat_reservations
		      WHERE reserved_at < ? ORDER BY showtime_id, seat_number FOR UPDATE SKIP LOCKED`
		if err := tx.SelectContext(ctx, &rows, q, before.UTC()); err != nil {
			return err
		}
		if err := deleteReservations(ctx, tx, rows); err != nil {
			return err
		}
		out = rows
		return nil
	})
	return out, err
}

// DeleteByConnection removes and returns every hold owned by connID.
func (s *SeatStore) DeleteByConnection(ctx context.Context, connID string) ([]model.Reservation, error) {
	var out []model.Reservation
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var rows []model.Reservation
		q := `SELECT ` + reservationColumns + ` FROM seat_reservations
		      WHERE connection_id = ? ORDER BY showtime_id, seat_number FOR UPDATE`
		if err := tx.SelectContext(ctx, &rows, q, connID); err != nil {
			return err
		}
		if err := deleteReservations(ctx, tx, rows); err != nil {
			return err
		}
		out = rows
		return nil
	})
	return out, err
}

// AttachPayment tags connID's live holds with a payment.  The DSN sets
// clientFoundRows so that re-attaching the same payment still counts the
// matched rows.
func (s *SeatStore) AttachPayment(ctx context.Context, showtimeID int64, connID string, seats []int, liveSince time.Time, paymentID, email string) (bool, error) {
	if len(seats) == 0 {
		return false, nil
	}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		q, args, err := sqlx.In(
			`UPDATE seat_reservations SET payment_id = ?, customer_email = ?
			 WHERE showtime_id = ? AND connection_id = ? AND reserved_at >= ? AND seat_number IN (?)`,
			paymentID, nullString(email), showtimeID, connID, liveSince.UTC(), seats)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(q), args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != int64(len(seats)) {
			return errRollback
		}
		return nil
	})
	if errors.Is(err, errRollback) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PromotePayment books every hold tagged with paymentID.  Hold age is not
// checked: a payment that was attached while the hold was live is honoured
// as long as the sweeper has not evicted the hold yet.
func (s *SeatStore) PromotePayment(ctx context.Context, paymentID string) ([]model.Reservation, error) {
	var out []model.Reservation
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var rows []model.Reservation
		q := `SELECT ` + reservationColumns + ` FROM seat_reservations
		      WHERE payment_id = ? ORDER BY showtime_id, seat_number FOR UPDATE`
		if err := tx.SelectContext(ctx, &rows, q, paymentID); err != nil {
			return err
		}
		if len(rows) == 0 {
			return ErrNoHolds
		}
		if err := deleteReservations(ctx, tx, rows); err != nil {
			return err
		}
		seats := make([]model.Seat, 0, len(rows))
		for _, r := range rows {
			seats = append(seats, model.Seat{
				ShowtimeID:    r.ShowtimeID,
				SeatNumber:    r.SeatNumber,
				Status:        model.SeatBooked,
				PaymentID:     r.PaymentID,
				CustomerEmail: r.CustomerEmail,
			})
		}
		if err := upsertSeats(ctx, tx, seats); err != nil {
			return err
		}
		out = rows
		return nil
	})
	return out, err
}

// SetSeatStatus applies an administrative status.  The reservation keys
// and ledger rows are read with FOR UPDATE so a concurrent select or book
// on the same seats waits for this transaction.
func (s *SeatStore) SetSeatStatus(ctx context.Context, showtimeID int64, seats []int, status model.SeatStatus) ([]int, error) {
	if len(seats) == 0 {
		return nil, nil
	}
	var changed []int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		q, args, err := sqlx.In(
			`SELECT seat_number FROM seat_reservations WHERE showtime_id = ? AND seat_number IN (?) FOR UPDATE`,
			showtimeID, seats)
		if err != nil {
			return err
		}
		var held []int
		if err := tx.SelectContext(ctx, &held, tx.Rebind(q), args...); err != nil {
			return err
		}
		q, args, err = sqlx.In(
			`SELECT showtime_id, seat_number, status, payment_id, customer_email
			 FROM seats WHERE showtime_id = ? AND seat_number IN (?) FOR UPDATE`,
			showtimeID, seats)
		if err != nil {
			return err
		}
		var current []model.Seat
		if err := tx.SelectContext(ctx, &current, tx.Rebind(q), args...); err != nil {
			return err
		}
		skip := make(map[int]bool, len(held)+len(current))
		for _, n := range held {
			skip[n] = true
		}
		existing := make(map[int]model.SeatStatus, len(current))
		for _, st := range current {
			existing[st.SeatNumber] = st.Status
			if st.Status == model.SeatBooked || st.Status == model.SeatReserved {
				skip[st.SeatNumber] = true
			}
		}
		rows := make([]model.Seat, 0, len(seats))
		for _, n := range seats {
			if skip[n] {
				continue
			}
			prev, ok := existing[n]
			if !ok {
				prev = model.SeatAvailable
			}
			if prev == status {
				continue
			}
			rows = append(rows, model.Seat{ShowtimeID: showtimeID, SeatNumber: n, Status: status})
			changed = append(changed, n)
		}
		return upsertSeats(ctx, tx, rows)
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// Layout joins the showtime with its auditorium.
func (s *SeatStore) Layout(ctx context.Context, showtimeID int64) (model.Layout, error) {
	const q = `SELECT s.id AS showtime_id, s.auditorium_id, a.total_seats, a.seats_per_row
	           FROM showtimes s
	           JOIN auditoriums a ON a.id = s.auditorium_id
	           WHERE s.id = ?`
	var l model.Layout
	if err := s.db.GetContext(ctx, &l, q, showtimeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Layout{}, ErrShowtimeNotFound
		}
		return model.Layout{}, err
	}
	return l, nil
}

// SeedSeats inserts missing available rows in batches.  Existing rows,
// whatever their status, are left alone.
func (s *SeatStore) SeedSeats(ctx context.Context, showtimeID int64, total int) (int64, error) {
	var created int64
	for start := 1; start <= total; start += seedBatch {
		end := start + seedBatch - 1
		if end > total {
			end = total
		}
		var b strings.Builder
		b.WriteString(`INSERT IGNORE INTO seats (showtime_id, seat_number, status) VALUES `)
		args := make([]interface{}, 0, (end-start+1)*2)
		for n := start; n <= end; n++ {
			if n > start {
				b.WriteString(",")
			}
			b.WriteString("(?, ?, 'available')")
			args = append(args, showtimeID, n)
		}
		res, err := s.db.ExecContext(ctx, b.String(), args...)
		if err != nil {
			return created, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return created, err
		}
		created += n
	}
	return created, nil
}

// Seats lists the ledger rows of a showtime ordered by seat number.
func (s *SeatStore) Seats(ctx context.Context, showtimeID int64) ([]model.Seat, error) {
	const q = `SELECT showtime_id, seat_number, status, payment_id, customer_email
	           FROM seats WHERE showtime_id = ? ORDER BY seat_number`
	var out []model.Seat
	if err := s.db.SelectContext(ctx, &out, q, showtimeID); err != nil {
		return nil, err
	}
	return out, nil
}

// Holds lists the holds of a showtime ordered by seat number.
func (s *SeatStore) Holds(ctx context.Context, showtimeID int64) ([]model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM seat_reservations WHERE showtime_id = ? ORDER BY seat_number`
	var out []model.Reservation
	if err := s.db.SelectContext(ctx, &out, q, showtimeID); err != nil {
		return nil, err
	}
	return out, nil
}

// PurgeShowtime deletes holds and ledger rows of a showtime.  If any seat
// is booked, nothing is deleted and ErrConflict is returned.
func (s *SeatStore) PurgeShowtime(ctx context.Context, showtimeID int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var booked int
		if err := tx.GetContext(ctx, &booked,
			`SELECT COUNT(*) FROM seats WHERE showtime_id = ? AND status = 'booked' FOR UPDATE`, showtimeID); err != nil {
			return err
		}
		if booked > 0 {
			return ErrConflict
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM seat_reservations WHERE showtime_id = ?`, showtimeID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM seats WHERE showtime_id = ?`, showtimeID); err != nil {
			return err
		}
		return nil
	})
}

func deleteReservations(ctx context.Context, tx *sqlx.Tx, rows []model.Reservation) error {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	q, args, err := sqlx.In(`DELETE FROM seat_reservations WHERE id IN (?)`, ids)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(q), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != int64(len(ids)) {
		return fmt.Errorf("deleted %d of %d locked holds", n, len(ids))
	}
	return nil
}

// upsertSeats writes ledger rows, replacing status, payment and e-mail of
// rows that already exist.
func upsertSeats(ctx context.Context, tx *sqlx.Tx, seats []model.Seat) error {
	if len(seats) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString(`INSERT INTO seats (showtime_id, seat_number, status, payment_id, customer_email) VALUES `)
	args := make([]interface{}, 0, len(seats)*5)
	for i, st := range seats {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(?, ?, ?, ?, ?)")
		args = append(args, st.ShowtimeID, st.SeatNumber, string(st.Status), st.PaymentID, st.CustomerEmail)
	}
	b.WriteString(` ON DUPLICATE KEY UPDATE status = VALUES(status),
	    payment_id = VALUES(payment_id), customer_email = VALUES(customer_email)`)
	_, err := tx.ExecContext(ctx, b.String(), args...)
	return err
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
