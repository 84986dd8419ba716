package sqlutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKind_ClassifiesByFirstKeyword(t *testing.T) {
	cases := map[string]string{
		"SELECT * FROM t":             KindSelect,
		"  select * from t":           KindSelect,
		"WITH cte AS (SELECT 1) SELECT * FROM cte": KindSelect,
		"INSERT INTO t (a) VALUES (1)": KindInsert,
		"UPDATE t SET a = 1":           KindUpdate,
		"DELETE FROM t WHERE id = 1":   KindDelete,
		"CREATE TABLE t (a INT)":       KindDDL,
		"ALTER TABLE t ADD COLUMN b":   KindDDL,
		"DROP TABLE t":                 KindDDL,
		"BEGIN":                        KindTCL,
		"COMMIT":                       KindTCL,
		"ROLLBACK":                     KindTCL,
		"EXPLAIN SELECT 1":             KindOther,
	}
	for sql, want := range cases {
		require.Equal(t, want, Kind(sql), "sql: %q", sql)
	}
}

func TestKind_IgnoresLeadingWhitespaceAndComments(t *testing.T) {
	sql := "  -- a leading comment\n  /* block comment */  SELECT 1"
	require.Equal(t, KindSelect, Kind(sql))
}

func TestKind_CaseInsensitive(t *testing.T) {
	require.Equal(t, KindUpdate, Kind("uPdAtE t set a = 1"))
}
