package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func newTestCluster(t *testing.T, replicas int) (*Cluster, sqlmock.Sqlmock, []sqlmock.Sqlmock) {
	t.Helper()
	primary, pmock := mockDB(t)
	c := &Cluster{primary: primary}
	var mocks []sqlmock.Sqlmock
	for i := 0; i < replicas; i++ {
		db, mock := mockDB(t)
		r := &replica{db: db}
		r.healthy.Store(true)
		c.replicas = append(c.replicas, r)
		mocks = append(mocks, mock)
	}
	return c, pmock, mocks
}

func TestCluster_ReaderWithoutReplicasUsesPrimary(t *testing.T) {
	c, _, _ := newTestCluster(t, 0)
	assert.Same(t, c.Primary(), c.Reader())
}

func TestCluster_ReaderRotatesOverHealthyReplicas(t *testing.T) {
	c, _, _ := newTestCluster(t, 2)

	seen := map[*sql.DB]int{}
	for i := 0; i < 4; i++ {
		seen[c.Reader()]++
	}
	assert.Equal(t, 2, seen[c.replicas[0].db])
	assert.Equal(t, 2, seen[c.replicas[1].db])
	assert.Zero(t, seen[c.Primary()])
}

func TestCluster_PingTakesFailedReplicaOutOfRotation(t *testing.T) {
	c, pmock, mocks := newTestCluster(t, 2)
	ctx := context.Background()

	pmock.ExpectPing()
	mocks[0].ExpectPing().WillReturnError(errors.New("replica lagging"))
	mocks[1].ExpectPing()
	require.NoError(t, c.Ping(ctx))
	assert.Equal(t, 1, c.HealthyReplicas())
	for i := 0; i < 3; i++ {
		assert.Same(t, c.replicas[1].db, c.Reader())
	}

	pmock.ExpectPing()
	mocks[0].ExpectPing().WillReturnError(errors.New("still down"))
	mocks[1].ExpectPing().WillReturnError(errors.New("down too"))
	require.NoError(t, c.Ping(ctx), "replica outages do not fail the health check")
	assert.Same(t, c.Primary(), c.Reader())

	pmock.ExpectPing().WillReturnError(errors.New("connection refused"))
	assert.ErrorContains(t, c.Ping(ctx), "primary")
}
