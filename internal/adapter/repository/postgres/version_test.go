package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/suite"
	"github.com/linkloom/linkloom/internal/entity"
)

type VersionRepositoryTestSuite struct {
	suite.Suite
	errUnknown error
	columns    []string
	mock       sqlmock.Sqlmock
	repo       *VersionRepository
}

func (suite *VersionRepositoryTestSuite) SetupSuite() {
	suite.errUnknown = errors.New("unknown error")
	suite.columns = []string{
		"id", "link_id", "version", "actor_id", "actor_name",
		"reason", "details", "snapshot", "created_at",
	}
}

func (suite *VersionRepositoryTestSuite) SetupSubTest() {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		suite.T().Fatalf("Failed to create mock database: %v", err)
	}
	suite.T().Cleanup(func() {
		mockDB.Close()
	})

	db := sqlx.NewDb(mockDB, "sqlmock")
	suite.T().Cleanup(func() {
		db.Close()
	})

	suite.mock = mock
	suite.repo = NewVersionRepository(db)
}

func (suite *VersionRepositoryTestSuite) TearDownSubTest() {
	suite.NoError(suite.mock.ExpectationsWereMet())
}

func (suite *VersionRepositoryTestSuite) versionRow(version int64, reason entity.ChangeReason) *sqlmock.Rows {
	return sqlmock.NewRows(suite.columns).
		AddRow(version, 1, version, nil, nil,
			string(reason), []byte(`{}`), []byte(`{"original_url":"https://example.com"}`), time.Time{})
}

func (suite *VersionRepositoryTestSuite) TestAppend() {
	record := &entity.VersionRecord{
		LinkID: 1,
		Reason: entity.ReasonDestinationUpdated,
		Snapshot: entity.Snapshot{
			OriginalURL: "https://example.com",
		},
	}

	suite.Run("version conflict", func() {
		suite.mock.ExpectQuery(`INSERT INTO link_versions`).
			WillReturnError(&pgconn.PgError{Code: uniqueViolationErrCode})

		appended, err := suite.repo.Append(context.Background(), record)

		suite.Error(err)
		suite.ErrorIs(err, entity.ErrVersionConflict)
		suite.Nil(appended)
	})

	suite.Run("link removed", func() {
		suite.mock.ExpectQuery(`INSERT INTO link_versions`).
			WillReturnError(&pgconn.PgError{Code: foreignKeyViolationErrCode})

		appended, err := suite.repo.Append(context.Background(), record)

		suite.Error(err)
		suite.ErrorIs(err, entity.ErrLinkNotFound)
		suite.Nil(appended)
	})

	suite.Run("unknown error", func() {
		suite.mock.ExpectQuery(`INSERT INTO link_versions`).
			WillReturnError(suite.errUnknown)

		appended, err := suite.repo.Append(context.Background(), record)

		suite.Error(err)
		suite.ErrorIs(err, suite.errUnknown)
		suite.Nil(appended)
	})

	suite.Run("success", func() {
		suite.mock.ExpectQuery(`INSERT INTO link_versions`).
			WillReturnRows(suite.versionRow(4, entity.ReasonDestinationUpdated))

		appended, err := suite.repo.Append(context.Background(), record)

		suite.NoError(err)
		suite.NotNil(appended)
		suite.EqualValues(4, appended.Version)
		suite.Equal(entity.ReasonDestinationUpdated, appended.Reason)
		suite.Equal("https://example.com", appended.Snapshot.OriginalURL)
	})
}

func (suite *VersionRepositoryTestSuite) TestRetrieveByVersion() {
	suite.Run("version not found", func() {
		suite.mock.ExpectQuery(`SELECT (.+) FROM link_versions`).
			WithArgs(int64(1), int64(99)).
			WillReturnError(sql.ErrNoRows)

		record, err := suite.repo.RetrieveByVersion(context.Background(), 1, 99)

		suite.Error(err)
		suite.ErrorIs(err, entity.ErrVersionNotFound)
		suite.Nil(record)
	})

	suite.Run("success", func() {
		suite.mock.ExpectQuery(`SELECT (.+) FROM link_versions`).
			WithArgs(int64(1), int64(2)).
			WillReturnRows(suite.versionRow(2, entity.ReasonSettingsUpdated))

		record, err := suite.repo.RetrieveByVersion(context.Background(), 1, 2)

		suite.NoError(err)
		suite.NotNil(record)
		suite.EqualValues(2, record.Version)
		suite.Equal(entity.ReasonSettingsUpdated, record.Reason)
	})
}

func (suite *VersionRepositoryTestSuite) TestList() {
	suite.Run("unknown error", func() {
		suite.mock.ExpectQuery(`SELECT (.+) FROM link_versions`).
			WithArgs(int64(1)).
			WillReturnError(suite.errUnknown)

		records, err := suite.repo.List(context.Background(), 1, 0, 0)

		suite.Error(err)
		suite.ErrorIs(err, suite.errUnknown)
		suite.Nil(records)
	})

	suite.Run("no records", func() {
		suite.mock.ExpectQuery(`SELECT (.+) FROM link_versions`).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows(suite.columns))

		records, err := suite.repo.List(context.Background(), 1, 0, 0)

		suite.NoError(err)
		suite.Empty(records)
	})

	suite.Run("with limit and offset", func() {
		rows := sqlmock.NewRows(suite.columns).
			AddRow(3, 1, 3, nil, nil, string(entity.ReasonDisabled), []byte(`{}`), []byte(`{}`), time.Time{}).
			AddRow(2, 1, 2, nil, nil, string(entity.ReasonDestinationUpdated), []byte(`{}`), []byte(`{}`), time.Time{})

		suite.mock.ExpectQuery(`SELECT (.+) FROM link_versions (.+) LIMIT \$2 OFFSET \$3`).
			WithArgs(int64(1), 2, 1).
			WillReturnRows(rows)

		records, err := suite.repo.List(context.Background(), 1, 2, 1)

		suite.NoError(err)
		suite.Len(records, 2)
		suite.EqualValues(3, records[0].Version)
		suite.EqualValues(2, records[1].Version)
	})
}

func TestVersionRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(VersionRepositoryTestSuite))
}
