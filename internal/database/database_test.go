package database

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestConnectSQLite(t *testing.T) {
	db, err := Connect("sqlite", "file:database_test?mode=memory&cache=shared")
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, sqlDB.Ping())
	require.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestConnectRejectsBadInput(t *testing.T) {
	_, err := Connect("sqlite", "")
	require.Error(t, err)

	_, err = Connect("oracle", "dsn")
	require.ErrorContains(t, err, "unsupported database driver")
}

func TestConnectRedis(t *testing.T) {
	mini := miniredis.RunT(t)

	client, err := ConnectRedis("redis://" + mini.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = ConnectRedis("")
	require.Error(t, err)

	mini.Close()
	_, err = ConnectRedis("redis://" + mini.Addr())
	require.Error(t, err)
}

func TestConnectNATSDisabledWithoutURL(t *testing.T) {
	conn, err := ConnectNATS("", "chat")
	require.NoError(t, err)
	require.Nil(t, conn)
}
