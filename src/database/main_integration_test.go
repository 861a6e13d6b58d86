//go:build integration

package database

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"signalbot/src/config"
)

func TestPostgresDatabaseSuite(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	db, err := NewDBConnection(cfg.DatabaseConfig)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	suite.Run(t, &PipelineDatabaseTestSuite{
		newDb: func() PipelineDatabase { return db },
	})
}
