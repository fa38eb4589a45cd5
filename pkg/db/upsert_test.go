package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var showColumns = []string{"Field", "Type", "Null", "Key", "Default", "Extra"}

func usersMeta() *sqlmock.Rows {
	return sqlmock.NewRows(showColumns).
		AddRow("id", "int unsigned", "NO", "PRI", nil, "auto_increment").
		AddRow("name", "varchar(255)", "YES", "", nil, "").
		AddRow("born", "date", "YES", "", nil, "").
		AddRow("created", "datetime", "NO", "", "CURRENT_TIMESTAMP", "DEFAULT_GENERATED")
}

func TestConn_TableMeta(t *testing.T) {
	c, mock := prepConn(t, WithPrefix("pre_"))
	mock.ExpectQuery("SHOW COLUMNS FROM `pre_users`").WillReturnRows(usersMeta())

	cols, err := c.TableMeta(context.Background(), "{users}")
	require.NoError(t, err)
	require.Len(t, cols, 4)
	assert.Equal(t, Column{Name: "id", Type: "int unsigned", Kind: KindOther, Key: "PRI", Extra: "auto_increment"}, cols[0])
	assert.True(t, cols[1].Nullable)
	assert.Equal(t, KindDate, cols[2].Kind)
	assert.Equal(t, KindDateTime, cols[3].Kind)
	require.NotNil(t, cols[3].Default)
	assert.Equal(t, "CURRENT_TIMESTAMP", *cols[3].Default)

	// cached, no more queries
	cols[0].Name = "modified"
	cached, err := c.TableMeta(context.Background(), "{users}")
	require.NoError(t, err)
	assert.Equal(t, "id", cached[0].Name, "cache not affected by caller changes")
	assert.NoError(t, mock.ExpectationsWereMet())

	// invalidated, loaded again
	c.InvalidateMeta("{users}")
	mock.ExpectQuery("SHOW COLUMNS FROM `pre_users`").WillReturnRows(usersMeta())
	_, err = c.TableMeta(context.Background(), "{users}")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConn_TableMetaDotted(t *testing.T) {
	c, mock := prepConn(t, WithPrefix("t_"))
	mock.ExpectQuery("SHOW COLUMNS FROM `app`.`t_users`").WillReturnRows(usersMeta())

	cols, err := c.TableMeta(context.Background(), "app.{users}")
	require.NoError(t, err)
	assert.Len(t, cols, 4)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConn_TableMetaNoColumnsCached(t *testing.T) {
	c, mock := prepConn(t)
	mock.ExpectQuery("SHOW COLUMNS FROM `empty`").WillReturnRows(sqlmock.NewRows(showColumns))

	cols, err := c.TableMeta(context.Background(), "empty")
	require.NoError(t, err)
	assert.Empty(t, cols)
	cols, err = c.TableMeta(context.Background(), "empty")
	require.NoError(t, err)
	assert.Empty(t, cols)
	assert.NoError(t, mock.ExpectationsWereMet(), "second call served from cache")

	c.ResetMeta()
	mock.ExpectQuery("SHOW COLUMNS FROM `empty`").WillReturnRows(sqlmock.NewRows(showColumns))
	_, err = c.TableMeta(context.Background(), "empty")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConn_TableMetaInvalidName(t *testing.T) {
	c, mock := prepConn(t)
	for _, name := range []string{"bad name!", "", "users;drop", "a`b", "t-1"} {
		t.Run(name, func(t *testing.T) {
			_, err := c.TableMeta(context.Background(), name)
			var idErr *InvalidIdentifierError
			require.ErrorAs(t, err, &idErr)
			assert.Equal(t, name, idErr.Name)
		})
	}
	assert.NoError(t, mock.ExpectationsWereMet(), "no queries issued")
}

func TestConn_UpsertInsert(t *testing.T) {
	c, mock := prepConn(t)
	mock.ExpectQuery("SHOW COLUMNS FROM `users`").WillReturnRows(usersMeta())
	mock.ExpectExec("INSERT INTO `users` (`created`) VALUES (?)").WithArgs("2023-11-14 22:13:20").
		WillReturnResult(sqlmock.NewResult(12, 1))

	err := c.Upsert(context.Background(), "users", map[string]any{"created": 1700000000}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(12), c.LastInsertID())
	assert.Equal(t, int64(1), c.AffectedRows())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConn_UpsertInsertColumnsOrder(t *testing.T) {
	c, mock := prepConn(t, WithPrefix("p_"))
	mock.ExpectQuery("SHOW COLUMNS FROM `p_users`").WillReturnRows(usersMeta())
	mock.ExpectExec("INSERT INTO `p_users` (`id`, `name`, `born`, `created`) VALUES (?, ?, ?, ?)").
		WithArgs(5, "bob", "2023-11-14", "2024-01-02 03:04:05").
		WillReturnResult(sqlmock.NewResult(5, 1))

	fields := map[string]any{"created": "2024-01-02 03:04:05", "born": "1700000000", "name": "bob", "id": 5}
	err := c.Upsert(context.Background(), "{users}", fields, "")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConn_UpsertUpdate(t *testing.T) {
	c, mock := prepConn(t)
	mock.ExpectQuery("SHOW COLUMNS FROM `users`").WillReturnRows(usersMeta())
	mock.ExpectExec("UPDATE `users` SET `name` = ?, `created` = ? WHERE id = ? AND name <> ?").
		WithArgs("alice", "2023-11-14 22:13:20", 7, "root").
		WillReturnResult(sqlmock.NewResult(0, 1))

	fields := map[string]any{"name": "alice", "created": []byte("1700000000")}
	err := c.Upsert(context.Background(), "users", fields, "id = ? AND name <> ?", 7, "root")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.AffectedRows())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConn_UpsertLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	c, mock := prepConn(t, WithLocation(loc))
	mock.ExpectQuery("SHOW COLUMNS FROM `users`").WillReturnRows(usersMeta())
	mock.ExpectExec("UPDATE `users` SET `created` = ? WHERE id = 1").WithArgs("2023-11-15 00:13:20").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := c.Upsert(context.Background(), "users", map[string]any{"created": int64(1700000000)}, "id = 1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConn_UpsertErrors(t *testing.T) {
	c, mock := prepConn(t)

	t.Run("invalid table", func(t *testing.T) {
		err := c.Upsert(context.Background(), "users where 1=1", map[string]any{"name": "x"}, "")
		var idErr *InvalidIdentifierError
		assert.ErrorAs(t, err, &idErr)
	})

	t.Run("invalid column", func(t *testing.T) {
		mock.ExpectQuery("SHOW COLUMNS FROM `users`").WillReturnRows(usersMeta())
		err := c.Upsert(context.Background(), "users", map[string]any{"name": "x", "`name`=1;--": "y"}, "")
		var colErr *InvalidColumnError
		require.ErrorAs(t, err, &colErr)
		assert.Equal(t, "`name`=1;--", colErr.Column)
		assert.Equal(t, "users", colErr.Table)
	})

	t.Run("where args without where", func(t *testing.T) {
		err := c.Upsert(context.Background(), "users", map[string]any{"name": "x"}, "", 5)
		assert.ErrorIs(t, err, ErrWhereArgsWithoutWhere)
	})

	t.Run("empty fields", func(t *testing.T) {
		err := c.Upsert(context.Background(), "users", map[string]any{}, "id = 1")
		assert.ErrorIs(t, err, ErrEmptyFieldSet)
	})

	t.Run("query error", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO `users` (`name`) VALUES (?)").WithArgs("dup").
			WillReturnError(assert.AnError)
		err := c.Upsert(context.Background(), "users", map[string]any{"name": "dup"}, "")
		var qErr *QueryError
		require.ErrorAs(t, err, &qErr)
		assert.Equal(t, "INSERT INTO `users` (`name`) VALUES (?)", qErr.Query)
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKindOf(t *testing.T) {
	tbl := []struct {
		typ  string
		kind Kind
	}{
		{"date", KindDate},
		{"DATE", KindDate},
		{"datetime", KindDateTime},
		{"datetime(6)", KindDateTime},
		{"timestamp", KindDateTime},
		{"int(11) unsigned", KindOther},
		{"varchar(255)", KindOther},
		{"dated", KindOther},
		{"", KindOther},
	}
	for _, tt := range tbl {
		t.Run(tt.typ, func(t *testing.T) {
			assert.Equal(t, tt.kind, kindOf(tt.typ))
		})
	}
}

func TestUnixTimestamp(t *testing.T) {
	tbl := []struct {
		inp any
		ts  int64
		ok  bool
	}{
		{"1700000000", 1700000000, true},
		{[]byte("0"), 0, true},
		{1700000000, 1700000000, true},
		{uint32(86400), 86400, true},
		{"", 0, false},
		{"-1", 0, false},
		{"17e8", 0, false},
		{"2023-11-14", 0, false},
		{1.5, 0, false},
		{nil, 0, false},
		{"99999999999999999999", 0, false},
	}
	for _, tt := range tbl {
		ts, ok := unixTimestamp(tt.inp)
		assert.Equal(t, tt.ok, ok, "%v", tt.inp)
		assert.Equal(t, tt.ts, ts, "%v", tt.inp)
	}
}

func TestMetaCache(t *testing.T) {
	m := NewMetaCache()
	_, ok := m.Get("t")
	assert.False(t, ok)

	m.Set("t", []Column{{Name: "a"}})
	m.Set("empty", nil)
	cols, ok := m.Get("t")
	assert.True(t, ok)
	assert.Equal(t, []Column{{Name: "a"}}, cols)
	cols, ok = m.Get("empty")
	assert.True(t, ok)
	assert.Empty(t, cols)

	m.Invalidate("t")
	_, ok = m.Get("t")
	assert.False(t, ok)
	m.Reset()
	_, ok = m.Get("empty")
	assert.False(t, ok)
}
