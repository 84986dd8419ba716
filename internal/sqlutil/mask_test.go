package sqlutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMask_QuotedLiteralsAndIntegers(t *testing.T) {
	sql := "SELECT * FROM users WHERE email = 'a@b.com' AND id = 42"
	got := Mask(sql)
	require.Equal(t, "SELECT * FROM users WHERE email = ? AND id = ?", got)
}

func TestMask_DecimalLiteral(t *testing.T) {
	got := Mask("UPDATE accounts SET balance = 19.99 WHERE id = 1")
	require.Equal(t, "UPDATE accounts SET balance = ? WHERE id = ?", got)
}

func TestMask_LeavesIdentifiersAndKeywordsAlone(t *testing.T) {
	got := Mask("SELECT t1.col2 FROM table1 t1")
	require.Equal(t, "SELECT t1.col2 FROM table1 t1", got)
}

func TestMask_LeavesExistingPlaceholdersAlone(t *testing.T) {
	got := Mask("SELECT * FROM users WHERE id = ?")
	require.Equal(t, "SELECT * FROM users WHERE id = ?", got)
}

func TestMask_LeavesPositionalAndNamedPlaceholdersAlone(t *testing.T) {
	require.Equal(t, "SELECT * FROM t WHERE id = $1", Mask("SELECT * FROM t WHERE id = $1"))
	require.Equal(t, "SELECT * FROM t WHERE id = :1", Mask("SELECT * FROM t WHERE id = :1"))
}

func TestMask_EscapedQuoteInsideLiteral(t *testing.T) {
	got := Mask("SELECT * FROM t WHERE name = 'o''brien'")
	require.Equal(t, "SELECT * FROM t WHERE name = ?", got)
}

func TestMask_DoubleQuotedIdentifierUntouched(t *testing.T) {
	got := Mask(`SELECT "User Id" FROM users WHERE "User Id" = 5`)
	require.Equal(t, `SELECT "User Id" FROM users WHERE "User Id" = ?`, got)
}

func TestMask_LeavesIdentifierTrailingDigitsAlone(t *testing.T) {
	require.Equal(t, "SELECT * FROM t WHERE id1 = ?", Mask("SELECT * FROM t WHERE id1 = 5"))
	require.Equal(t, "SELECT * FROM users2 WHERE a = ?", Mask("SELECT * FROM users2 WHERE a = 1"))
}

func TestMask_Idempotent(t *testing.T) {
	cases := []string{
		"SELECT * FROM users WHERE email = 'a@b.com' AND id = 42",
		"INSERT INTO t (a, b) VALUES (1, 'x')",
		"SELECT * FROM t WHERE id = ?",
		"",
	}
	for _, sql := range cases {
		once := Mask(sql)
		twice := Mask(once)
		require.Equal(t, once, twice, "Mask must be idempotent for %q", sql)
	}
}

func TestMask_NoQuotedLiteralOrBareIntegerSurvives(t *testing.T) {
	sql := "SELECT * FROM orders WHERE status = 'pending' AND amount > 100 AND qty = 3.5"
	masked := Mask(sql)
	require.NotContains(t, masked, "'pending'")
	require.NotContains(t, masked, "100")
	require.NotContains(t, masked, "3.5")
}
