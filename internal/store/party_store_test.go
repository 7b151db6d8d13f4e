package store

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"testing"
	"time"

	"bizledger/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var partyColumnNames = []string{"id", "owner_id", "name", "phone", "kind", "opening_balance", "balance", "status", "created_at", "updated_at"}

func TestPartyStoreCreate(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	phone := "9845012345"
	execer := stubDB{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "INSERT INTO parties") {
				t.Fatalf("unexpected query: %s", query)
			}
			require.Len(t, args, 9)
			assert.Equal(t, "p-1", args[0])
			assert.Equal(t, "owner-1", args[1])
			assert.Equal(t, &phone, args[3])
			assert.Equal(t, "supplier", args[4])
			assert.Equal(t, int64(-50000), args[5])
			assert.Equal(t, int64(-50000), args[6])
			assert.Equal(t, "active", args[7])
			assert.Equal(t, created, args[8])
			return stubResult{rows: 1}, nil
		},
	}
	err := NewPartyStore(stubDB{}).Create(context.Background(), execer, models.Party{
		ID: "p-1", OwnerID: "owner-1", Name: "Ravi", Phone: &phone, Kind: models.KindSupplier,
		OpeningBalance: -50000, Balance: -50000, Status: models.StatusActive, CreatedAt: created,
	})
	require.NoError(t, err)
}

func TestPartyStoreListAppliesAllFilters(t *testing.T) {
	db, mock := newMockDB(t)
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(partyColumnNames).
		AddRow("p-2", "owner-1", "Ravi", "98450", "customer", int64(0), int64(1200), "active", created, created).
		AddRow("p-1", "owner-1", "Ravina", nil, "customer", int64(0), int64(0), "active", created, created)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE owner_id = $1 AND kind = $2 AND status = $3 AND (name ILIKE $4 OR COALESCE(phone, '') ILIKE $4) ORDER BY created_at DESC, id`)).
		WithArgs("owner-1", "customer", "active", "%rav\\_i%").
		WillReturnRows(rows)

	parties, err := NewPartyStore(db).List(context.Background(), "owner-1", models.PartyFilter{
		Kind: models.KindCustomer, Status: models.StatusActive, Search: " rav_i ",
	})
	require.NoError(t, err)
	require.Len(t, parties, 2)
	assert.Equal(t, "p-2", parties[0].ID)
	require.NotNil(t, parties[0].Phone)
	assert.Equal(t, "98450", *parties[0].Phone)
	assert.Nil(t, parties[1].Phone)
	assert.Equal(t, models.KindCustomer, parties[1].Kind)
}

func TestPartyStoreListOwnerOnlyWithSort(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM parties WHERE owner_id = $1 ORDER BY lower(name) ASC, id`)).
		WithArgs("owner-1").
		WillReturnRows(sqlmock.NewRows(partyColumnNames))

	parties, err := NewPartyStore(db).List(context.Background(), "owner-1", models.PartyFilter{Sort: "name_asc"})
	require.NoError(t, err)
	assert.Empty(t, parties)
	assert.NotNil(t, parties)
}

func TestPartyStoreListUnknownSortFallsBack(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY created_at DESC, id`)).
		WithArgs("owner-1").
		WillReturnRows(sqlmock.NewRows(partyColumnNames))

	_, err := NewPartyStore(db).List(context.Background(), "owner-1", models.PartyFilter{Sort: "; DROP TABLE parties"})
	require.NoError(t, err)
	assert.False(t, ValidSort("; DROP TABLE parties"))
	assert.True(t, ValidSort("balance_desc"))
}

func TestPartyStoreGetForUpdateIsOwnerScoped(t *testing.T) {
	getter := stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "FOR UPDATE") || !strings.Contains(query, "owner_id = $2") {
				t.Fatalf("unexpected query: %s", query)
			}
			assert.Equal(t, []any{"p-1", "owner-1"}, args)
			*dest.(*models.Party) = models.Party{ID: "p-1", Balance: 700}
			return nil
		},
	}
	party, err := NewPartyStore(stubDB{}).GetForUpdate(context.Background(), getter, "owner-1", "p-1")
	require.NoError(t, err)
	assert.Equal(t, int64(700), party.Balance)
}

func TestPartyStoreGetByIDNotFound(t *testing.T) {
	store := NewPartyStore(stubDB{
		getFn: func(context.Context, any, string, ...any) error { return sql.ErrNoRows },
	})
	_, err := store.GetByID(context.Background(), "owner-1", "p-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestPartyStoreDeleteReportsRows(t *testing.T) {
	execer := stubDB{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "DELETE FROM parties") {
				t.Fatalf("unexpected query: %s", query)
			}
			assert.Equal(t, []any{"p-1", "owner-1"}, args)
			return stubResult{rows: 0}, nil
		},
	}
	rows, err := NewPartyStore(stubDB{}).Delete(context.Background(), execer, "owner-1", "p-1")
	require.NoError(t, err)
	assert.Zero(t, rows)
}

func TestPartyStoreSetStatus(t *testing.T) {
	execer := stubDB{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			assert.Contains(t, query, "SET status = $1")
			assert.Equal(t, []any{"settled", "p-1"}, args)
			return stubResult{rows: 1}, nil
		},
	}
	require.NoError(t, NewPartyStore(stubDB{}).SetStatus(context.Background(), execer, "p-1", models.StatusSettled))
}

func TestPartyStoreListDrift(t *testing.T) {
	db, mock := newMockDB(t)
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	columns := append(append([]string{}, partyColumnNames...), "ledger_balance", "difference")
	mock.ExpectQuery(regexp.QuoteMeta(`HAVING p.balance <> p.opening_balance`)).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("p-1", "owner-1", "Ravi", nil, "customer", int64(100), int64(900), "active", created, created, int64(600), int64(300)))

	rows, err := NewPartyStore(db).ListDrift(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "p-1", rows[0].ID)
	assert.Equal(t, int64(900), rows[0].Balance)
	assert.Equal(t, int64(600), rows[0].LedgerBalance)
	assert.Equal(t, int64(300), rows[0].Difference)
}
