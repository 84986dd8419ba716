package sqlutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kubedb-monitor/agent/internal/util/ident"
)

func rawNames(tables []ident.Resource) []string {
	out := make([]string, len(tables))
	for i, t := range tables {
		out[i] = t.Raw()
	}
	return out
}

func TestTargets_SelectWithoutLockHint(t *testing.T) {
	tables, locking := Targets("SELECT id FROM users WHERE email = ?")
	require.Equal(t, LockNone, locking)
	require.Equal(t, []string{"users"}, rawNames(tables))
}

func TestTargets_SelectForUpdateIsExclusive(t *testing.T) {
	_, locking := Targets("SELECT id FROM accounts WHERE id = ? FOR UPDATE")
	require.Equal(t, LockExclusive, locking)
}

func TestTargets_SelectForShareIsShared(t *testing.T) {
	_, locking := Targets("SELECT id FROM accounts WHERE id = ? FOR SHARE")
	require.Equal(t, LockShared, locking)
}

func TestTargets_UpdateIsExclusive(t *testing.T) {
	tables, locking := Targets("UPDATE accounts SET balance = ? WHERE id = ?")
	require.Equal(t, LockExclusive, locking)
	require.Equal(t, []string{"accounts"}, rawNames(tables))
}

func TestTargets_DeleteFromIsExclusive(t *testing.T) {
	tables, locking := Targets("DELETE FROM orders WHERE id = ?")
	require.Equal(t, LockExclusive, locking)
	require.Equal(t, []string{"orders"}, rawNames(tables))
}

func TestTargets_InsertIsExclusive(t *testing.T) {
	tables, locking := Targets("INSERT INTO orders (id) VALUES (?)")
	require.Equal(t, LockExclusive, locking)
	require.Equal(t, []string{"orders"}, rawNames(tables))
}

func TestTargets_MultipleFromTablesDeduped(t *testing.T) {
	tables, _ := Targets("SELECT * FROM accounts a, accounts b WHERE a.id = b.id")
	require.Equal(t, []string{"accounts"}, rawNames(tables))
}

func TestTargets_CaseInsensitiveTableName(t *testing.T) {
	tables, _ := Targets("SELECT * FROM Users")
	require.Equal(t, []string{"users"}, rawNames(tables))
}

func TestTargets_DDLHasNoLockingClassification(t *testing.T) {
	tables, locking := Targets("CREATE TABLE t (a INT)")
	require.Equal(t, LockNone, locking)
	require.Empty(t, tables)
}
