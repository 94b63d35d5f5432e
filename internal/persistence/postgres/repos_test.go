package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/crabdrop/internal/persistence"
)

var identityCols = []string{
	"id", "username", "verified", "claim_code", "linked_handle", "linked_post_id",
	"wallet", "disbursement_receipt", "verified_at", "created_at",
}

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func TestIdentityRepo_GetByClaimCode(t *testing.T) {
	db, mock := newMock(t)
	repo := NewIdentityRepo(db, 5*time.Second)
	created := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		rows := sqlmock.NewRows(identityCols).
			AddRow("c1", "alice", false, "reef-X4B2", nil, nil, "W1", nil, nil, created)
		mock.ExpectQuery(regexp.QuoteMeta("FROM crabs WHERE claim_code = $1")).
			WithArgs("reef-X4B2").
			WillReturnRows(rows)

		identity, err := repo.GetByClaimCode(context.Background(), "reef-X4B2")
		require.NoError(t, err)
		assert.Equal(t, "alice", identity.Username)
		assert.False(t, identity.Verified)
		require.NotNil(t, identity.Wallet)
		assert.Equal(t, "W1", *identity.Wallet)
		assert.Nil(t, identity.DisbursementReceipt)
	})

	t.Run("not_found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM crabs WHERE claim_code = $1")).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(identityCols))

		_, err := repo.GetByClaimCode(context.Background(), "missing")
		assert.ErrorIs(t, err, persistence.ErrNotFound)
	})

	t.Run("store_error", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM crabs WHERE claim_code = $1")).
			WithArgs("boom").
			WillReturnError(errors.New("connection refused"))

		_, err := repo.GetByClaimCode(context.Background(), "boom")
		require.Error(t, err)
		assert.NotErrorIs(t, err, persistence.ErrNotFound)
		assert.Contains(t, err.Error(), "connection refused")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityRepo_MarkVerified(t *testing.T) {
	db, mock := newMock(t)
	repo := NewIdentityRepo(db, 5*time.Second)
	now := time.Date(2026, 2, 1, 12, 30, 0, 0, time.UTC)

	update := persistence.VerificationUpdate{
		IdentityID:   "c1",
		ClaimCode:    "reef-X4B2",
		LinkedHandle: "alice",
		LinkedPostID: "123456",
		VerifiedAt:   now,
	}

	t.Run("consumes_code", func(t *testing.T) {
		rows := sqlmock.NewRows(identityCols).
			AddRow("c1", "alice", true, nil, "alice", "123456", "W1", nil, now, now)
		mock.ExpectQuery(regexp.QuoteMeta(
			"UPDATE crabs SET verified = true, claim_code = NULL")).
			WithArgs("c1", "reef-X4B2", "alice", "123456", now).
			WillReturnRows(rows)

		identity, err := repo.MarkVerified(context.Background(), update)
		require.NoError(t, err)
		assert.True(t, identity.Verified)
		assert.Nil(t, identity.ClaimCode)
		require.NotNil(t, identity.LinkedHandle)
		assert.Equal(t, "alice", *identity.LinkedHandle)
	})

	t.Run("lost_race", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(
			"WHERE id = $1 AND claim_code = $2 AND verified = false")).
			WithArgs("c1", "reef-X4B2", "alice", "123456", now).
			WillReturnRows(sqlmock.NewRows(identityCols))

		_, err := repo.MarkVerified(context.Background(), update)
		assert.ErrorIs(t, err, persistence.ErrConflict)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityRepo_SetReceipt(t *testing.T) {
	db, mock := newMock(t)
	repo := NewIdentityRepo(db, 5*time.Second)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE crabs SET disbursement_receipt = $2")).
		WithArgs("c1", "5xTx").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SetReceipt(context.Background(), "c1", "5xTx"))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE crabs SET disbursement_receipt = $2")).
		WithArgs("c1", "otherTx").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.SetReceipt(context.Background(), "c1", "otherTx"), persistence.ErrConflict)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDisbursementRepo_Reserve(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDisbursementRepo(db, 5*time.Second)
	now := time.Now().UTC()
	insert := regexp.QuoteMeta("INSERT INTO airdrop_disbursements") + ".*" +
		regexp.QuoteMeta("ON CONFLICT (wallet) DO NOTHING")

	tests := []struct {
		name   string
		setup  func()
		expect error
	}{
		{
			name: "reserved",
			setup: func() {
				mock.ExpectExec(insert).
					WithArgs("W1", "c1", int64(420), now).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "wallet_taken",
			setup: func() {
				mock.ExpectExec(insert).
					WithArgs("W1", "c1", int64(420), now).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			expect: persistence.ErrConflict,
		},
		{
			name: "unique_violation",
			setup: func() {
				mock.ExpectExec(insert).
					WithArgs("W1", "c1", int64(420), now).
					WillReturnError(&pq.Error{Code: "23505"})
			},
			expect: persistence.ErrConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			err := repo.Reserve(context.Background(), persistence.Reservation{
				Wallet: "W1", IdentityID: "c1", Amount: 420, ReservedAt: now,
			})
			if tt.expect == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.expect)
			}
		})
	}

	t.Run("empty_wallet", func(t *testing.T) {
		err := repo.Reserve(context.Background(), persistence.Reservation{IdentityID: "c1"})
		assert.Error(t, err)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDisbursementRepo_FinalizeAndRelease(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDisbursementRepo(db, 5*time.Second)
	now := time.Now().UTC()
	finalize := regexp.QuoteMeta("UPDATE airdrop_disbursements SET status = 'final'")
	release := regexp.QuoteMeta("DELETE FROM airdrop_disbursements WHERE wallet = $1 AND status = 'pending'")
	inspect := regexp.QuoteMeta("SELECT status FROM airdrop_disbursements WHERE wallet = $1")

	t.Run("finalize_pending", func(t *testing.T) {
		mock.ExpectExec(finalize).WithArgs("W1", "5xTx", now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, repo.Finalize(context.Background(), "W1", "5xTx", now))
	})

	t.Run("finalize_other_handle", func(t *testing.T) {
		mock.ExpectExec(finalize).WithArgs("W1", "otherTx", now).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(inspect).WithArgs("W1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("final"))
		assert.ErrorIs(t, repo.Finalize(context.Background(), "W1", "otherTx", now), persistence.ErrConflict)
	})

	t.Run("finalize_unknown_wallet", func(t *testing.T) {
		mock.ExpectExec(finalize).WithArgs("W9", "5xTx", now).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(inspect).WithArgs("W9").
			WillReturnRows(sqlmock.NewRows([]string{"status"}))
		assert.ErrorIs(t, repo.Finalize(context.Background(), "W9", "5xTx", now), persistence.ErrNotFound)
	})

	t.Run("release_pending", func(t *testing.T) {
		mock.ExpectExec(release).WithArgs("W2").
			WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, repo.Release(context.Background(), "W2"))
	})

	t.Run("release_final_refused", func(t *testing.T) {
		mock.ExpectExec(release).WithArgs("W1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(inspect).WithArgs("W1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("final"))
		assert.ErrorIs(t, repo.Release(context.Background(), "W1"), persistence.ErrConflict)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDisbursementRepo_CountAndListPending(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDisbursementRepo(db, 5*time.Second)
	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	reservedAt := cutoff.Add(-time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'final')")).
		WillReturnRows(sqlmock.NewRows([]string{"count", "final"}).AddRow(12, 9))

	reserved, final, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), reserved)
	assert.Equal(t, int64(9), final)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'pending' AND reserved_at < $1")).
		WithArgs(cutoff, 50).
		WillReturnRows(sqlmock.NewRows(
			[]string{"wallet", "identity_id", "status", "tx_handle", "amount", "reserved_at", "finalized_at"}).
			AddRow("W3", "c3", "pending", nil, 420, reservedAt, nil))

	pending, err := repo.ListPending(context.Background(), cutoff, 50)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "W3", pending[0].Wallet)
	assert.Equal(t, persistence.ReservationPending, pending[0].Status)
	assert.Nil(t, pending[0].TxHandle)

	assert.NoError(t, mock.ExpectationsWereMet())
}
