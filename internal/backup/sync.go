package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Stats 统计一次复制的结果
type Stats struct {
	Files          int   `json:"files"`
	Bytes          int64 `json:"bytes"`
	SkippedFiles   int   `json:"skipped_files"`
	SkippedFolders int   `json:"skipped_folders"`
	Failed         int   `json:"failed"`
}

// Warning is a single entry that could not be copied. It never aborts a run.
type Warning struct {
	Source string
	Dest   string
	Err    error
}

func (w Warning) String() string {
	return fmt.Sprintf("Failed to copy %s -> %s: %v", w.Source, w.Dest, w.Err)
}

// Copier 递归镜像复制目录树
//
// Symlinks are followed: a link to a directory is copied as a directory and a
// link to a file as a file. A dangling link is reported as a warning.
type Copier struct {
	Filter Filter

	// OnWarning receives per-file failures.
	OnWarning func(Warning)
	// OnFile is called after every copied file with the running totals.
	OnFile func(Stats)

	copyFile func(src, dst string, perm os.FileMode) (int64, error)
	root     string
}

// CopyTree mirrors source into dest with the given filter.
func CopyTree(source, dest string, filter Filter, report func(Warning)) (Stats, error) {
	c := &Copier{Filter: filter, OnWarning: report}
	return c.Copy(source, dest)
}

// Copy 执行复制。目录创建或读取失败会中止整个复制，单个文件失败只记录警告。
func (c *Copier) Copy(source, dest string) (Stats, error) {
	var st Stats
	if c.copyFile == nil {
		c.copyFile = copyFile
	}
	// A destination nested inside the source must not be copied into itself.
	if abs, err := filepath.Abs(dest); err == nil {
		c.root = abs
	}
	err := c.copyDir(source, dest, &st)
	return st, err
}

func (c *Copier) copyDir(source, dest string, st *Stats) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dest, err)
	}

	entries, err := os.ReadDir(source)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", source, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		srcPath := filepath.Join(source, name)
		dstPath := filepath.Join(dest, name)

		info, err := os.Stat(srcPath)
		if err != nil {
			st.Failed++
			c.warn(Warning{Source: srcPath, Dest: dstPath, Err: err})
			continue
		}

		switch {
		case info.IsDir():
			if c.Filter.SkipFolder(name) || c.isRoot(srcPath) {
				st.SkippedFolders++
				continue
			}
			if err := c.copyDir(srcPath, dstPath, st); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			if c.Filter.SkipFile(name) {
				st.SkippedFiles++
				continue
			}
			n, err := c.copyFile(srcPath, dstPath, info.Mode().Perm())
			if err != nil {
				st.Failed++
				c.warn(Warning{Source: srcPath, Dest: dstPath, Err: err})
				continue
			}
			st.Files++
			st.Bytes += n
			if c.OnFile != nil {
				c.OnFile(*st)
			}
		}
		// sockets, devices and pipes are left alone
	}
	return nil
}

func (c *Copier) isRoot(path string) bool {
	if c.root == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	return err == nil && abs == c.root
}

func (c *Copier) warn(w Warning) {
	if c.OnWarning != nil {
		c.OnWarning(w)
	}
}

// copyFile 复制文件，已存在的目标文件会被覆盖
func copyFile(src, dst string, perm os.FileMode) (int64, error) {
	source, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer source.Close()

	destination, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(destination, source)
	if err != nil {
		destination.Close()
		return n, err
	}
	return n, destination.Close()
}
