package repository

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/bigkaiyoh/TGF-Scholar/internal/domain"
)

func TestMapPgError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "no rows", err: pgx.ErrNoRows, want: domain.ErrNotFound},
		{name: "unique", err: &pgconn.PgError{Code: pgUniqueViolation}, want: domain.ErrDuplicateID},
		{name: "foreign key", err: &pgconn.PgError{Code: pgForeignKeyViolation}, want: domain.ErrInvalidOrganization},
		{name: "undefined table", err: &pgconn.PgError{Code: pgUndefinedTable}, want: domain.ErrMissingIndex},
		{name: "undefined column", err: &pgconn.PgError{Code: pgUndefinedColumn}, want: domain.ErrMissingIndex},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := mapPgError("op", tc.err)
			require.ErrorIs(t, err, tc.want)
			require.ErrorContains(t, err, "op")
		})
	}

	require.NoError(t, mapPgError("op", nil))

	other := errors.New("connection reset")
	err := mapPgError("op", other)
	require.ErrorIs(t, err, other)
	require.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestMapMongoError(t *testing.T) {
	require.ErrorIs(t, mapMongoError("op", mongo.ErrNoDocuments), domain.ErrNotFound)

	dup := mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000, Message: "E11000 duplicate key error"}}}
	require.ErrorIs(t, mapMongoError("op", dup), domain.ErrDuplicateID)

	badHint := mongo.CommandError{Code: mongoBadValue, Message: "error processing query: planner returned error :: caused by :: hint provided does not correspond to an existing index"}
	require.ErrorIs(t, mapMongoError("op", badHint), domain.ErrMissingIndex)

	otherBadValue := mongo.CommandError{Code: mongoBadValue, Message: "unknown operator"}
	err := mapMongoError("op", otherBadValue)
	require.NotErrorIs(t, err, domain.ErrMissingIndex)
	require.ErrorAs(t, err, &mongo.CommandError{})
}
