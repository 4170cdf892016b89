package data

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/target/sso-ticket-core/internal/data/cryptoutil"
	"github.com/target/sso-ticket-core/internal/data/pgxutil"
	"github.com/target/sso-ticket-core/internal/domain/ticket"
	apperrors "github.com/target/sso-ticket-core/internal/errors"
	"github.com/target/sso-ticket-core/internal/ports"
)

var _ ports.TicketRegistry = (*PostgresTicketRegistry)(nil)

// PostgresRegistryOptions configures a PostgresTicketRegistry.
type PostgresRegistryOptions struct {
	DB     *sql.DB
	Codec  ports.TicketCodec
	Cipher cryptoutil.Cipher
	Logger *slog.Logger
}

// PostgresTicketRegistry stores encoded tickets in the tickets table. Revisions are
// compared under a row lock, so two writers racing on one id cannot both succeed.
type PostgresTicketRegistry struct {
	db       *sql.DB
	payloads *Payloads
	logger   *slog.Logger
}

type ticketRow struct {
	ID       string `db:"id"`
	Revision int64  `db:"revision"`
	Payload  []byte `db:"payload"`
}

// NewPostgresTicketRegistry creates a registry over an already migrated database.
func NewPostgresTicketRegistry(opts PostgresRegistryOptions) (*PostgresTicketRegistry, error) {
	if opts.DB == nil {
		return nil, errors.New("database is required")
	}
	payloads, err := NewPayloads(opts.Codec, opts.Cipher)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTicketRegistry{
		db:       opts.DB,
		payloads: payloads,
		logger:   logger.With("component", "postgres_ticket_registry"),
	}, nil
}

func expiresAt(t ticket.Ticket) *time.Time {
	d := ticket.DeadlineOf(t)
	if d.IsZero() {
		return nil
	}
	d = d.UTC()
	return &d
}

func (r *PostgresTicketRegistry) Add(ctx context.Context, t ticket.Ticket) error {
	if ticket.IsNil(t) || t.ID() == "" {
		return apperrors.ValidationField("id", "ticket id is required")
	}
	payload, err := r.payloads.Pack(t)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO tickets (id, kind, granting_ticket_id, revision, payload, expires_at)
		VALUES ($1, $2, NULLIF($3, ''), 1, $4, $5)`
	err = pgxutil.WithPgxConn(ctx, r.db, func(conn *pgx.Conn) error {
		_, execErr := conn.Exec(ctx, q, t.ID(), string(t.Kind()), t.GrantingTicketID(), payload, expiresAt(t))
		return execErr
	})
	if err != nil {
		return apperrors.MapStoreError(err)
	}
	t.SetRevision(1)
	return nil
}

func (r *PostgresTicketRegistry) Get(ctx context.Context, id string) (ticket.Ticket, error) {
	const q = `SELECT id, revision, payload FROM tickets WHERE id = $1`
	var row ticketRow
	err := pgxutil.WithPgxConn(ctx, r.db, func(conn *pgx.Conn) error {
		rows, qErr := conn.Query(ctx, q, id)
		if qErr != nil {
			return qErr
		}
		var collectErr error
		row, collectErr = pgx.CollectOneRow(rows, pgx.RowToStructByName[ticketRow])
		return collectErr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFoundf("ticket %s not found", id)
	}
	if err != nil {
		return nil, apperrors.MapStoreError(err)
	}
	return r.payloads.Unpack(row.ID, row.Revision, row.Payload)
}

func (r *PostgresTicketRegistry) Update(ctx context.Context, t ticket.Ticket) error {
	if ticket.IsNil(t) {
		return apperrors.Validation("cannot update a nil ticket")
	}
	payload, err := r.payloads.Pack(t)
	if err != nil {
		return err
	}

	next := t.Revision() + 1
	err = pgxutil.WithPgxTx(ctx, r.db, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		var current int64
		lockErr := tx.QueryRow(ctx, `SELECT revision FROM tickets WHERE id = $1 FOR UPDATE`, t.ID()).Scan(&current)
		if errors.Is(lockErr, pgx.ErrNoRows) {
			return apperrors.NotFoundf("ticket %s not found", t.ID())
		}
		if lockErr != nil {
			return lockErr
		}
		if current != t.Revision() {
			return apperrors.ConcurrentModification(t.ID())
		}
		_, execErr := tx.Exec(ctx, `
			UPDATE tickets
			SET payload = $2, revision = $3, expires_at = $4, updated_at = now()
			WHERE id = $1`, t.ID(), payload, next, expiresAt(t))
		return execErr
	}})
	if err != nil {
		return apperrors.MapStoreError(err)
	}
	t.SetRevision(next)
	return nil
}

func (r *PostgresTicketRegistry) Delete(ctx context.Context, id string) (bool, error) {
	var affected int64
	err := pgxutil.WithPgxConn(ctx, r.db, func(conn *pgx.Conn) error {
		tag, execErr := conn.Exec(ctx, `DELETE FROM tickets WHERE id = $1`, id)
		if execErr != nil {
			return execErr
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return false, apperrors.MapStoreError(err)
	}
	return affected > 0, nil
}

// GetAll decodes every row. Rows that cannot be decoded are logged and skipped so
// one bad payload does not stop an expiration sweep.
func (r *PostgresTicketRegistry) GetAll(ctx context.Context) ([]ticket.Ticket, error) {
	var rows []ticketRow
	err := pgxutil.WithPgxConn(ctx, r.db, func(conn *pgx.Conn) error {
		res, qErr := conn.Query(ctx, `SELECT id, revision, payload FROM tickets ORDER BY id`)
		if qErr != nil {
			return qErr
		}
		var collectErr error
		rows, collectErr = pgx.CollectRows(res, pgx.RowToStructByName[ticketRow])
		return collectErr
	})
	if err != nil {
		return nil, apperrors.MapStoreError(err)
	}

	out := make([]ticket.Ticket, 0, len(rows))
	for _, row := range rows {
		t, decErr := r.payloads.Unpack(row.ID, row.Revision, row.Payload)
		if decErr != nil {
			r.logger.WarnContext(ctx, "skipping undecodable ticket",
				"ticket_id", row.ID,
				"error", decErr,
			)
			continue
		}
		out = append(out, t)
	}
	return out, nil
}
