package interceptor

import (
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kubedb-monitor/agent/internal/dbevent"
)

// Classify maps a driver error to the vendor-agnostic classification
// table in spec §6. It never returns nil for a non-nil err; callers
// skip classification entirely when err is nil.
func Classify(err error) dbevent.ErrorKind {
	if err == nil {
		return dbevent.ErrorKindOther
	}

	if mysqlErr, ok := err.(*mysql.MySQLError); ok {
		switch mysqlErr.Number {
		case 1213: // ER_LOCK_DEADLOCK
			return dbevent.ErrorKindDeadlockSuspect
		case 1205: // ER_LOCK_WAIT_TIMEOUT
			return dbevent.ErrorKindLockTimeout
		}
	}

	if pgErr, ok := err.(*pgconn.PgError); ok {
		switch pgErr.Code {
		case "40001": // serialization_failure
			return dbevent.ErrorKindDeadlockSuspect
		case "40P01": // deadlock_detected
			return dbevent.ErrorKindDeadlockSuspect
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadlock"):
		return dbevent.ErrorKindDeadlockSuspect
	case strings.Contains(msg, "lock wait timeout"):
		return dbevent.ErrorKindLockTimeout
	default:
		return dbevent.ErrorKindOther
	}
}

// IsDeadlockSuspect reports whether kind should trigger an on-demand
// cycle check (spec §4.5's "on demand after an error whose
// classification suggests lock contention"). Both a true deadlock
// report and a lock-wait timeout are contention signals worth an
// immediate check, rather than waiting for the next ticker tick.
func IsDeadlockSuspect(kind dbevent.ErrorKind) bool {
	return kind == dbevent.ErrorKindDeadlockSuspect || kind == dbevent.ErrorKindLockTimeout
}
