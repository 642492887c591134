package db

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/sorn-tracker/pkg/config"
	"github.com/angelmondragon/sorn-tracker/pkg/logger"
)

type noteRow struct {
	ID   int
	Body string
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Discard,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&noteRow{}))
	return conn
}

func countNotes(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(&noteRow{}).Count(&n).Error)
	return n
}

func TestWithTxCommitsAndRollsBack(t *testing.T) {
	conn := newTestDB(t)
	client := NewFromConn(conn)
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&noteRow{Body: "kept"}).Error
	}))
	assert.Equal(t, int64(1), countNotes(t, conn))

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		require.NoError(t, tx.Create(&noteRow{Body: "dropped"}).Error)
		return errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, int64(1), countNotes(t, conn))
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	conn := newTestDB(t)
	client := NewFromConn(conn)

	assert.Panics(t, func() {
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			require.NoError(t, tx.Create(&noteRow{Body: "panicked"}).Error)
			panic("boom")
		})
	})
	assert.Zero(t, countNotes(t, conn))
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{Driver: config.DBDriverSQLite}, nil)
	assert.Error(t, err)
}

func TestNewOpensSQLite(t *testing.T) {
	client, err := New(context.Background(), config.DBConfig{
		Driver:       config.DBDriverSQLite,
		DSN:          "file:" + t.Name() + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	assert.NoError(t, client.Ping(context.Background()))
	assert.Equal(t, "sqlite", client.DB().Dialector.Name())
}

func TestQueryLoggerDisabledWithoutThreshold(t *testing.T) {
	assert.Equal(t, gormlogger.Discard, queryLogger(nil, time.Second))
	assert.Equal(t, gormlogger.Discard, queryLogger(logger.New(logger.Options{ServiceName: "test"}), 0))
}

func TestSlowQueryWriterLogsAtWarn(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &buf})

	slowQueryWriter{logg: logg}.Printf("%s [%.3fms] %s", "repo.go:10", 812.5, "SELECT 1")

	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "SELECT 1")
}

func TestIsRecordNotFound(t *testing.T) {
	assert.True(t, IsRecordNotFound(gorm.ErrRecordNotFound))
	assert.True(t, IsRecordNotFound(errors.Join(errors.New("find sorn"), gorm.ErrRecordNotFound)))
	assert.False(t, IsRecordNotFound(errors.New("other")))
}
