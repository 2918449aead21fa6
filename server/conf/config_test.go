package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCfgDefaults(t *testing.T) {
	cfg := NewCfg().Load(&CommandLineArgs{})

	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, 16384, cfg.InnodbPageSize)
	assert.Equal(t, time.Second, cfg.DiscardIntervalDuration)
	assert.Equal(t, 10, cfg.HibernateMultiplier)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, filepath.Join("data", "undo"), cfg.UndoDir())
	assert.Equal(t, filepath.Join("data", "redo"), cfg.RedoDir())
}

func TestCfgLoadFromFile(t *testing.T) {
	content := `
[mysqld]
datadir = /tmp/xmysql-data

[innodb]
innodb_page_size     = 8192
innodb_undo_log_dir  = undologs
innodb_redo_log_dir  = redologs

[undo]
discard_interval     = 250ms
hibernate_multiplier = 4

[logs]
log_level = debug
`
	path := filepath.Join(t.TempDir(), "my.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := NewCfg().Load(&CommandLineArgs{ConfigPath: path})

	assert.Equal(t, "/tmp/xmysql-data", cfg.DataDir)
	assert.Equal(t, 8192, cfg.InnodbPageSize)
	assert.Equal(t, 250*time.Millisecond, cfg.DiscardIntervalDuration)
	assert.Equal(t, 4, cfg.HibernateMultiplier)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, filepath.Join("/tmp/xmysql-data", "undologs"), cfg.UndoDir())
	// 未配置的项保持默认值
	assert.Equal(t, "/var/log/mysql/error.log", cfg.LogError)
}
