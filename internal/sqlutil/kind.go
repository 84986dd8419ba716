package sqlutil

import "strings"

// Kind classifications, mirroring dbevent's Kind constants as plain
// strings so this package has no dependency on the event model.
const (
	KindSelect = "SELECT"
	KindInsert = "INSERT"
	KindUpdate = "UPDATE"
	KindDelete = "DELETE"
	KindDDL    = "DDL"
	KindTCL    = "TCL"
	KindOther  = "OTHER"
)

var ddlKeywords = map[string]bool{
	"CREATE": true, "ALTER": true, "DROP": true, "TRUNCATE": true, "RENAME": true,
}

var tclKeywords = map[string]bool{
	"BEGIN": true, "COMMIT": true, "ROLLBACK": true, "SAVEPOINT": true,
	"START": true, "RELEASE": true,
}

// Kind returns the coarse statement classification for sql, based on
// the first meaningful keyword, case-insensitively, ignoring leading
// whitespace and comments.
func Kind(sql string) string {
	word := firstKeyword(sql)
	switch word {
	case "SELECT", "WITH":
		return KindSelect
	case "INSERT", "UPSERT", "REPLACE":
		return KindInsert
	case "UPDATE":
		return KindUpdate
	case "DELETE":
		return KindDelete
	}
	if ddlKeywords[word] {
		return KindDDL
	}
	if tclKeywords[word] {
		return KindTCL
	}
	return KindOther
}

// firstKeyword returns the first whitespace-delimited token of sql,
// upper-cased, after skipping leading whitespace and "--"/"/* */"
// comments.
func firstKeyword(sql string) string {
	s := sql
	for {
		s = strings.TrimLeft(s, " \t\r\n")
		switch {
		case strings.HasPrefix(s, "--"):
			if idx := strings.IndexByte(s, '\n'); idx >= 0 {
				s = s[idx+1:]
				continue
			}
			return ""
		case strings.HasPrefix(s, "/*"):
			if idx := strings.Index(s, "*/"); idx >= 0 {
				s = s[idx+2:]
				continue
			}
			return ""
		}
		break
	}

	end := 0
	for end < len(s) && isWordChar(s[end]) {
		end++
	}
	return strings.ToUpper(s[:end])
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}
