package capture

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/web"
	"gorm.io/gorm"
)

// StartCleanupWorker 启动定时清理协程
// 程序启动时执行一次清理，随后每 60 分钟执行一次
func (c Core) StartCleanupWorker() {
	if c.cfg.RetainDays <= 0 {
		slog.Info("recording cleanup disabled")
		return
	}

	slog.Info("recording cleanup worker started",
		"retain_days", c.cfg.RetainDays,
		"storage_dir", c.cfg.StorageDir,
	)

	c.cleanupExpiredRecordings()

	ticker := time.NewTicker(60 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.cleanupExpiredRecordings()
	}
}

// cleanupExpiredRecordings 清理超过保留天数的录像
func (c Core) cleanupExpiredRecordings() {
	ctx := context.Background()
	cutoff := time.Now().AddDate(0, 0, -c.cfg.RetainDays)

	var totalDeleted, failedFiles int
	var freedBytes int64
	batchSize := 100

	for {
		var recordings []*Recording
		pager := web.PagerFilter{Page: 1, Size: batchSize}
		_, err := c.store.Recording().Find(ctx, &recordings, &pager,
			orm.Where("started_at < ?", orm.Time{Time: cutoff}),
		)
		if err != nil || len(recordings) == 0 {
			break
		}

		var deleteIDs []int64
		for _, rec := range recordings {
			for _, p := range recordingFiles(rec) {
				if err := os.Remove(p); err != nil {
					if !os.IsNotExist(err) {
						failedFiles++
					}
					continue
				}
				freedBytes += rec.Size
			}
			deleteIDs = append(deleteIDs, rec.ID)
		}

		if len(deleteIDs) > 0 {
			err = c.store.Recording().Session(ctx, func(tx *gorm.DB) error {
				return tx.Where("id IN ?", deleteIDs).Delete(&Recording{}).Error
			})
			if err == nil {
				totalDeleted += len(deleteIDs)
			}
		}
	}

	if c.cfg.StorageDir != "" {
		cleanupEmptyDirs(c.cfg.StorageDir)
	}

	if totalDeleted > 0 || failedFiles > 0 {
		slog.Info("expired recording cleanup completed",
			"retain_days", c.cfg.RetainDays,
			"cutoff_time", cutoff.Format(time.DateTime),
			"recordings_deleted", totalDeleted,
			"failed_files", failedFiles,
			"freed_bytes", freedBytes,
		)
	}
}

// cleanupEmptyDirs 递归删除空目录
func cleanupEmptyDirs(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			subDir := filepath.Join(dir, entry.Name())
			cleanupEmptyDirs(subDir)

			subEntries, err := os.ReadDir(subDir)
			if err == nil && len(subEntries) == 0 {
				_ = os.Remove(subDir)
			}
		}
	}
}
