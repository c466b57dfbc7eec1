package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/suite"
	"github.com/linkloom/linkloom/internal/entity"
)

type LinkRepositoryTestSuite struct {
	suite.Suite
	errUnknown error
	userID     uuid.UUID
	columns    []string
	mock       sqlmock.Sqlmock
	repo       *LinkRepository
}

func (suite *LinkRepositoryTestSuite) SetupSuite() {
	suite.errUnknown = errors.New("unknown error")
	suite.userID = uuid.New()
	suite.columns = []string{
		"id", "short_code", "user_id", "original_url", "custom_name",
		"password_hash", "expires_at", "active", "restricted", "settings",
		"access_count", "current_version", "created_at", "updated_at",
	}
}

func (suite *LinkRepositoryTestSuite) SetupSubTest() {
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
	suite.repo = NewLinkRepository(db)
}

func (suite *LinkRepositoryTestSuite) TearDownSubTest() {
	suite.NoError(suite.mock.ExpectationsWereMet())
}

func (suite *LinkRepositoryTestSuite) linkRow(shortCode string, version int64) *sqlmock.Rows {
	return sqlmock.NewRows(suite.columns).
		AddRow(1, shortCode, suite.userID, "https://example.com", nil,
			nil, nil, true, false, []byte(`{}`),
			0, version, time.Time{}, time.Time{})
}

func (suite *LinkRepositoryTestSuite) TestSave() {
	link := &entity.Link{
		ShortCode:   "abc123",
		UserID:      suite.userID,
		OriginalURL: "https://example.com",
		Active:      true,
	}

	suite.Run("short code exists", func() {
		suite.mock.ExpectQuery(`INSERT INTO links`).
			WillReturnError(&pgconn.PgError{Code: uniqueViolationErrCode})

		saved, err := suite.repo.Save(context.Background(), link)

		suite.Error(err)
		suite.ErrorIs(err, entity.ErrShortCodeExists)
		suite.Nil(saved)
	})

	suite.Run("unknown error", func() {
		suite.mock.ExpectQuery(`INSERT INTO links`).
			WillReturnError(suite.errUnknown)

		saved, err := suite.repo.Save(context.Background(), link)

		suite.Error(err)
		suite.ErrorIs(err, suite.errUnknown)
		suite.Nil(saved)
	})

	suite.Run("success", func() {
		suite.mock.ExpectQuery(`INSERT INTO links`).
			WillReturnRows(suite.linkRow("abc123", 0))

		saved, err := suite.repo.Save(context.Background(), link)

		suite.NoError(err)
		suite.NotNil(saved)
		suite.Equal("abc123", saved.ShortCode)
		suite.Equal(suite.userID, saved.UserID)
		suite.Equal("https://example.com", saved.OriginalURL)
		suite.True(saved.Active)
		suite.Zero(saved.AccessCount)
	})
}

func (suite *LinkRepositoryTestSuite) TestRetrieveByShortCode() {
	suite.Run("link not found", func() {
		suite.mock.ExpectQuery(`SELECT (.+) FROM links`).
			WithArgs("abc123").
			WillReturnError(sql.ErrNoRows)

		link, err := suite.repo.RetrieveByShortCode(context.Background(), "abc123")

		suite.Error(err)
		suite.ErrorIs(err, entity.ErrLinkNotFound)
		suite.Nil(link)
	})

	suite.Run("unknown error", func() {
		suite.mock.ExpectQuery(`SELECT (.+) FROM links`).
			WithArgs("abc123").
			WillReturnError(suite.errUnknown)

		link, err := suite.repo.RetrieveByShortCode(context.Background(), "abc123")

		suite.Error(err)
		suite.ErrorIs(err, suite.errUnknown)
		suite.Nil(link)
	})

	suite.Run("success", func() {
		suite.mock.ExpectQuery(`SELECT (.+) FROM links`).
			WithArgs("abc123").
			WillReturnRows(suite.linkRow("abc123", 3))

		link, err := suite.repo.RetrieveByShortCode(context.Background(), "abc123")

		suite.NoError(err)
		suite.NotNil(link)
		suite.Equal("abc123", link.ShortCode)
		suite.EqualValues(3, link.CurrentVersion)
	})
}

func (suite *LinkRepositoryTestSuite) TestUpdateState() {
	link := &entity.Link{
		ShortCode:      "abc123",
		UserID:         suite.userID,
		OriginalURL:    "https://new.example.com",
		Active:         true,
		CurrentVersion: 2,
	}

	suite.Run("link not found", func() {
		suite.mock.ExpectQuery(`UPDATE links`).
			WillReturnError(sql.ErrNoRows)

		updated, err := suite.repo.UpdateState(context.Background(), link)

		suite.Error(err)
		suite.ErrorIs(err, entity.ErrLinkNotFound)
		suite.Nil(updated)
	})

	suite.Run("success", func() {
		suite.mock.ExpectQuery(`UPDATE links`).
			WillReturnRows(suite.linkRow("abc123", 2))

		updated, err := suite.repo.UpdateState(context.Background(), link)

		suite.NoError(err)
		suite.NotNil(updated)
		suite.EqualValues(2, updated.CurrentVersion)
	})
}

func (suite *LinkRepositoryTestSuite) TestRegisterClick() {
	suite.Run("link not found", func() {
		suite.mock.ExpectExec(`UPDATE links SET access_count`).
			WithArgs("abc123").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := suite.repo.RegisterClick(context.Background(), "abc123")

		suite.Error(err)
		suite.ErrorIs(err, entity.ErrLinkNotFound)
	})

	suite.Run("unknown error", func() {
		suite.mock.ExpectExec(`UPDATE links SET access_count`).
			WithArgs("abc123").
			WillReturnError(suite.errUnknown)

		err := suite.repo.RegisterClick(context.Background(), "abc123")

		suite.Error(err)
		suite.ErrorIs(err, suite.errUnknown)
	})

	suite.Run("success", func() {
		suite.mock.ExpectExec(`UPDATE links SET access_count`).
			WithArgs("abc123").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := suite.repo.RegisterClick(context.Background(), "abc123")

		suite.NoError(err)
	})
}

func (suite *LinkRepositoryTestSuite) TestRemove() {
	suite.Run("link not found", func() {
		suite.mock.ExpectExec(`DELETE FROM links`).
			WithArgs("abc123").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := suite.repo.Remove(context.Background(), "abc123")

		suite.Error(err)
		suite.ErrorIs(err, entity.ErrLinkNotFound)
	})

	suite.Run("success", func() {
		suite.mock.ExpectExec(`DELETE FROM links`).
			WithArgs("abc123").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := suite.repo.Remove(context.Background(), "abc123")

		suite.NoError(err)
	})
}

func TestLinkRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(LinkRepositoryTestSuite))
}
