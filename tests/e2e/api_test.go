package e2e

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/gavv/httpexpect/v2"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/suite"

	"github.com/linkloom/linkloom/internal/config"
	"github.com/linkloom/linkloom/tests"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type APITestSuite struct {
	suite.Suite
	cfg *config.Config
	db  *sqlx.DB
	e   *httpexpect.Expect
}

func (suite *APITestSuite) SetupSuite() {
	root, err := tests.FindProjectRoot()
	if err != nil {
		suite.T().Fatalf("Failed to get project root: %v", err)
	}

	configPath := filepath.Join(root, os.Getenv("CONFIG_PATH"))

	suite.cfg, err = config.Load(configPath)
	if err != nil {
		suite.T().Fatalf("Failed to load config: %v", err)
	}

	suite.db, err = sqlx.Connect("pgx", suite.cfg.Postgres.DSN())
	if err != nil {
		suite.T().Fatalf("Failed to connect to database: %v", err)
	}
	suite.T().Cleanup(func() {
		suite.db.Close()
	})

	baseURL := fmt.Sprintf("http://localhost:%d", suite.cfg.HTTPServer.Port)
	suite.e = httpexpect.Default(suite.T(), baseURL)
}

func (suite *APITestSuite) TearDownSubTest() {
	_, err := suite.db.Exec(`TRUNCATE TABLE links RESTART IDENTITY CASCADE`)
	if err != nil {
		suite.T().Fatalf("Failed to clean links table: %v", err)
	}
}

func (suite *APITestSuite) TestPing() {
	const path = "/api/v1/ping"

	suite.Run("success", func() {
		suite.e.GET(path).
			Expect().
			Status(http.StatusOK).
			Text().IsEqual("pong")
	})
}

func (suite *APITestSuite) TestLinkLifecycle() {
	suite.Run("create, edit, inspect history, roll back", func() {
		resp := suite.e.POST("/api/v1/links").
			WithJSON(map[string]string{
				"original_url": "https://v1.example.com",
				"custom_alias": "lifecycle",
			}).
			Expect().
			Status(http.StatusCreated).
			JSON().Object()

		resp.HasValue("current_version", 1)

		suite.e.PUT("/api/v1/links/lifecycle/destination").
			WithJSON(map[string]string{"original_url": "https://v2.example.com"}).
			Expect().
			Status(http.StatusOK).
			JSON().Object().
			HasValue("current_version", 2)

		suite.e.GET("/api/v1/links/lifecycle/changelog").
			Expect().
			Status(http.StatusOK).
			JSON().Array().
			Length().IsEqual(2)

		resp = suite.e.POST("/api/v1/links/lifecycle/rollback").
			WithJSON(map[string]int{"target_version": 1}).
			Expect().
			Status(http.StatusOK).
			JSON().Object()

		resp.HasValue("original_url", "https://v1.example.com")
		resp.HasValue("current_version", 4)

		suite.e.GET("/lifecycle").
			WithRedirectPolicy(httpexpect.DontFollowRedirects).
			Expect().
			Status(http.StatusFound).
			Header("Location").IsEqual("https://v1.example.com")
	})
}

func TestAPITestSuite(t *testing.T) {
	if os.Getenv("CONFIG_PATH") == "" {
		t.Skip("CONFIG_PATH is not set")
	}

	suite.Run(t, new(APITestSuite))
}
