package db

import (
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// AppliedCommand is the last payload the machine accepted for a kind.
type AppliedCommand struct {
	Kind      string `gorm:"primaryKey;size:64"`
	Payload   string `gorm:"type:text"`
	Transport string `gorm:"size:32"`
	AppliedAt time.Time
}

func Init(path string) (*gorm.DB, error) {
	if path != ":memory:" && path != "file::memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := gdb.AutoMigrate(&AppliedCommand{}); err != nil {
		return nil, err
	}
	return gdb, nil
}
