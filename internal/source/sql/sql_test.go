package sql

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuemby/medallion/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapter_Extract_NoWatermark(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "name"}).
		AddRow("1", "alice").
		AddRow("2", "bob")
	mock.ExpectQuery("SELECT \\* FROM customers").WillReturnRows(rows)

	a := NewWithDB(db, config.SQLSourceSpec{Query: "SELECT * FROM customers"})

	ch, err := a.Extract(context.Background(), "")
	require.NoError(t, err)

	var got []string
	for item := range ch {
		require.NoError(t, item.Err)
		got = append(got, item.Record["name"].(string))
	}

	assert.Equal(t, []string{"alice", "bob"}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_Extract_WithWatermark_UpdatesCursor(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "updated_at"}).
		AddRow("1", "2026-07-30T00:00:00Z").
		AddRow("2", "2026-07-30T01:00:00Z")
	mock.ExpectQuery("WHERE updated_at > \\$1").WithArgs("2026-07-29T00:00:00Z").WillReturnRows(rows)

	a := NewWithDB(db, config.SQLSourceSpec{
		Query:           "SELECT * FROM events",
		WatermarkColumn: "updated_at",
	})

	ch, err := a.Extract(context.Background(), "2026-07-29T00:00:00Z")
	require.NoError(t, err)

	count := 0
	for item := range ch {
		require.NoError(t, item.Err)
		count++
	}
	assert.Equal(t, 2, count)
	assert.Equal(t, "2026-07-30T01:00:00Z", a.Cursor())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_Extract_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnError(assert.AnError)

	a := NewWithDB(db, config.SQLSourceSpec{Query: "SELECT * FROM broken"})

	ch, err := a.Extract(context.Background(), "")
	require.NoError(t, err)

	item := <-ch
	require.Error(t, item.Err)
}
