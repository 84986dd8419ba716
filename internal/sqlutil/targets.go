package sqlutil

import (
	"regexp"
	"strings"

	"github.com/kubedb-monitor/agent/internal/util/ident"
)

// LockMode describes the locking a statement's targets imply.
type LockMode string

// Lock modes.
const (
	LockNone      LockMode = "NONE"
	LockShared    LockMode = "SHARED"
	LockExclusive LockMode = "EXCLUSIVE"
)

var (
	fromRe       = regexp.MustCompile(`(?is)\bFROM\s+([a-zA-Z0-9_."\x60]+(?:\s+[a-zA-Z_][a-zA-Z0-9_]*)?(?:\s*,\s*[a-zA-Z0-9_."\x60]+(?:\s+[a-zA-Z_][a-zA-Z0-9_]*)?)*)`)
	updateRe     = regexp.MustCompile(`(?is)\bUPDATE\s+([a-zA-Z0-9_."\x60]+)`)
	deleteFromRe = regexp.MustCompile(`(?is)\bDELETE\s+FROM\s+([a-zA-Z0-9_."\x60]+)`)
	insertIntoRe = regexp.MustCompile(`(?is)\bINSERT\s+INTO\s+([a-zA-Z0-9_."\x60]+)`)
	forUpdateRe  = regexp.MustCompile(`(?is)\bFOR\s+UPDATE\b`)
	forShareRe   = regexp.MustCompile(`(?is)\bFOR\s+SHARE\b`)
)

// Targets performs best-effort extraction of the tables a statement
// touches and the locking mode implied by the statement (spec §4.3).
func Targets(sql string) (tables []ident.Resource, locking LockMode) {
	kind := Kind(sql)
	seen := map[string]bool{}
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}
		r := ident.New(raw)
		if r.IsZero() || seen[r.Raw()] {
			return
		}
		seen[r.Raw()] = true
		tables = append(tables, r)
	}

	switch kind {
	case KindUpdate:
		if m := updateRe.FindStringSubmatch(sql); m != nil {
			add(m[1])
		}
		return tables, LockExclusive
	case KindDelete:
		if m := deleteFromRe.FindStringSubmatch(sql); m != nil {
			add(m[1])
		} else if m := fromRe.FindStringSubmatch(sql); m != nil {
			addList(m[1], add)
		}
		return tables, LockExclusive
	case KindInsert:
		if m := insertIntoRe.FindStringSubmatch(sql); m != nil {
			add(m[1])
		}
		return tables, LockExclusive
	case KindSelect:
		if m := fromRe.FindStringSubmatch(sql); m != nil {
			addList(m[1], add)
		}
		switch {
		case forUpdateRe.MatchString(sql):
			locking = LockExclusive
		case forShareRe.MatchString(sql):
			locking = LockShared
		default:
			locking = LockNone
		}
		return tables, locking
	default:
		return nil, LockNone
	}
}

// addList splits a comma-separated FROM clause list (which may
// include simple "table alias" forms) and calls add for each table
// name found.
func addList(list string, add func(string)) {
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		// Strip a trailing alias, e.g. "accounts a" -> "accounts".
		fields := strings.Fields(part)
		if len(fields) > 0 {
			add(fields[0])
		}
	}
}
