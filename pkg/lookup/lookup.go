// Package lookup resolves an inbound caller's phone number to a
// beneficiary record in the benefits database.
package lookup

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"voicegate-server/pkg/config"
	"voicegate-server/pkg/errors"
	"voicegate-server/pkg/metrics"
)

// CallerRecord is the subset of the beneficiary application used by the
// voice gateway.
type CallerRecord struct {
	BeneficiaryID     int64
	FullName          string
	MobileNumber      string
	District          string
	ApplicationStatus string
}

// FirstName returns the caller's given name for greeting purposes
func (r *CallerRecord) FirstName() string {
	fields := strings.Fields(r.FullName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Resolver resolves a phone number to a caller record.
//
// Errors are typed: errors.ErrCallerNotFound means the number matched no
// beneficiary; errors.ErrLookupUnavailable means the lookup itself
// failed and the caller may well exist.
type Resolver interface {
	ResolveCaller(ctx context.Context, phoneNumber string) (*CallerRecord, error)
}

// Phone numbers arrive with country codes and spacing the database does
// not store; both sides are reduced to their last ten digits.
const callerQuery = `
	SELECT BeneficiaryId, FullName, MobileNumber, District, ApplicationStatus
	FROM BeneficiaryApplication
	WHERE RIGHT(REPLACE(MobileNumber, ' ', ''), 10) = ?`

// MySQLResolver resolves callers against the benefits database
type MySQLResolver struct {
	logger       *logrus.Logger
	db           *sql.DB
	queryTimeout time.Duration
}

// NewMySQLResolver opens the database pool and verifies connectivity
func NewMySQLResolver(logger *logrus.Logger, cfg *config.DatabaseConfig) (*MySQLResolver, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open caller database")
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "caller database unreachable")
	}

	logger.Info("Caller lookup database connected")

	return &MySQLResolver{
		logger:       logger,
		db:           db,
		queryTimeout: cfg.QueryTimeout,
	}, nil
}

// ResolveCaller looks up the beneficiary owning the phone number
func (r *MySQLResolver) ResolveCaller(ctx context.Context, phoneNumber string) (*CallerRecord, error) {
	start := time.Now()

	queryCtx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	var record CallerRecord
	err := r.db.QueryRowContext(queryCtx, callerQuery, lastTenDigits(phoneNumber)).Scan(
		&record.BeneficiaryID,
		&record.FullName,
		&record.MobileNumber,
		&record.District,
		&record.ApplicationStatus,
	)

	switch {
	case err == sql.ErrNoRows:
		metrics.RecordLookup("not_found", time.Since(start))
		r.logger.WithField("phone", phoneNumber).Debug("Caller not found in beneficiary database")
		return nil, errors.Wrap(errors.ErrCallerNotFound, phoneNumber)

	case err != nil:
		metrics.RecordLookup("error", time.Since(start))
		r.logger.WithError(err).WithField("phone", phoneNumber).Error("Caller lookup failed")
		return nil, errors.Wrap(errors.ErrLookupUnavailable, err.Error())
	}

	metrics.RecordLookup("found", time.Since(start))
	r.logger.WithFields(logrus.Fields{
		"phone":          phoneNumber,
		"beneficiary_id": record.BeneficiaryID,
	}).Debug("Caller resolved")

	return &record, nil
}

// Close releases the database pool
func (r *MySQLResolver) Close() error {
	return r.db.Close()
}

// Disabled is a Resolver used when no database is configured; every
// lookup reports the backend as unavailable so intake falls back to an
// unknown-caller identity.
type Disabled struct{}

// ResolveCaller always reports the lookup backend as unavailable
func (Disabled) ResolveCaller(ctx context.Context, phoneNumber string) (*CallerRecord, error) {
	return nil, errors.ErrLookupUnavailable
}

// lastTenDigits normalizes a dialed number to the national significant
// digits stored in the database.
func lastTenDigits(phoneNumber string) string {
	var digits []rune
	for _, r := range phoneNumber {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	return string(digits)
}
