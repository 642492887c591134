package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Diagnostics is the log-only view of an error. It is never sent to clients.
type Diagnostics struct {
	Message        string
	Code           Code
	Chain          []string
	Postgres       *PostgresDetail
	UpstreamStatus int
}

// PostgresDetail is what either postgres driver reports about a failed
// statement.
type PostgresDetail struct {
	Code       string
	Constraint string
	Table      string
	Column     string
	Message    string
}

// upstreamError is implemented by clients of remote HTTP APIs, e.g. the
// Federal Register client.
type upstreamError interface {
	HTTPStatus() int
}

// Diagnose walks the wrap chain of err, recording each link's type.
func Diagnose(err error) Diagnostics {
	if err == nil {
		return Diagnostics{}
	}
	d := Diagnostics{Message: err.Error(), Postgres: postgresDetail(err)}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
	}
	for link := err; link != nil; link = errors.Unwrap(link) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T", link))
	}
	var upstream upstreamError
	if errors.As(err, &upstream) {
		d.UpstreamStatus = upstream.HTTPStatus()
	}
	return d
}

func postgresDetail(err error) *PostgresDetail {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return &PostgresDetail{
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Message:    pgxErr.Message,
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &PostgresDetail{
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Message:    pqErr.Message,
		}
	}
	return nil
}

// Fields flattens d into structured log fields. Empty parts are omitted.
func (d Diagnostics) Fields() map[string]any {
	fields := map[string]any{
		"error":       d.Message,
		"error_chain": d.Chain,
	}
	if d.Code != "" {
		fields["error_code"] = d.Code
	}
	if d.UpstreamStatus != 0 {
		fields["upstream_status"] = d.UpstreamStatus
	}
	if pg := d.Postgres; pg != nil {
		fields["pg_code"] = pg.Code
		fields["pg_constraint"] = pg.Constraint
		fields["pg_table"] = pg.Table
		fields["pg_column"] = pg.Column
		fields["pg_message"] = pg.Message
	}
	return fields
}
