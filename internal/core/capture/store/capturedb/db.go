package capturedb

import (
	"log/slog"

	"github.com/gowvp/recap/internal/core/capture"
	"gorm.io/gorm"
)

// DB 数据库存储实现
type DB struct {
	db        *gorm.DB
	recording Recording
}

func NewDB(db *gorm.DB) *DB {
	return &DB{db: db, recording: NewRecording(db)}
}

// AutoMigrate 按开关自动建表
func (d *DB) AutoMigrate(ok bool) *DB {
	if ok {
		if err := d.db.AutoMigrate(&capture.Recording{}); err != nil {
			slog.Error("AutoMigrate", "err", err)
		}
	}
	return d
}

func (d *DB) Recording() capture.RecordingStorer {
	return d.recording
}
