// Package statefile 提供崩溃安全的 JSON 状态文件读写。
// 写入走临时文件 + fsync + rename，损坏的文件会被移到旁边备份而不是让进程失败。
package statefile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"crest/internal/logger"
)

// Save 原子化写入 JSON 状态。
func Save(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state failed (%s): %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir failed (%s): %w", path, err)
	}
	return writeAtomic(path, data, 0o644)
}

// Load 读取 JSON 状态。文件不存在返回 (false, nil)；
// 内容损坏时把原文件备份到一旁并按"无状态"处理，同样返回 (false, nil)。
func Load(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read state failed (%s): %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		backup := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		if renameErr := os.Rename(path, backup); renameErr != nil {
			logger.Errorf("状态文件损坏且备份失败: %s: %v (原始错误: %v)", path, renameErr, err)
		} else {
			logger.Warnf("状态文件损坏，已备份到 %s: %v", backup, err)
		}
		return false, nil
	}
	return true, nil
}

// writeAtomic 写临时文件、fsync、rename，并尽力 fsync 父目录。
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
