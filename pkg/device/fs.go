package device

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
)

// DirFS 以 Root 为根的文件系统，设备路径 /a/b 对应 Root/a/b，无法逃出 Root
type DirFS struct {
	Root string
}

// NewDirFS 创建文件系统
func NewDirFS(root string) *DirFS {
	return &DirFS{Root: root}
}

func (d *DirFS) resolve(p string) (string, string) {
	clean := path.Clean("/" + filepath.ToSlash(p))
	return clean, filepath.Join(d.Root, filepath.FromSlash(clean))
}

func info(devicePath string, fi fs.FileInfo) FileInfo {
	size := fi.Size()
	if fi.IsDir() {
		size = 0
	}
	return FileInfo{
		Name:         fi.Name(),
		Path:         devicePath,
		IsDirectory:  fi.IsDir(),
		Size:         size,
		LastModified: fi.ModTime().UnixMilli(),
	}
}

func (d *DirFS) List(p string) ([]FileInfo, error) {
	devicePath, local := d.resolve(p)
	fi, err := os.Stat(local)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s: %w", devicePath, fs.ErrInvalid)
	}

	entries, err := os.ReadDir(local)
	if err != nil {
		return nil, err
	}
	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, info(path.Join(devicePath, entry.Name()), fi))
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func (d *DirFS) Stat(p string) (*FileInfo, error) {
	devicePath, local := d.resolve(p)
	fi, err := os.Stat(local)
	if err != nil {
		return nil, err
	}
	result := info(devicePath, fi)
	return &result, nil
}

func (d *DirFS) ReadFile(p string) ([]byte, error) {
	_, local := d.resolve(p)
	fi, err := os.Stat(local)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%s is a directory: %w", p, fs.ErrNotExist)
	}
	return os.ReadFile(local)
}

// WriteFile 写入文件，自动创建缺失的父目录
func (d *DirFS) WriteFile(p string, data []byte) error {
	_, local := d.resolve(p)
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return err
	}
	return os.WriteFile(local, data, 0o644)
}

func (d *DirFS) Remove(p string) error {
	_, local := d.resolve(p)
	if _, err := os.Lstat(local); err != nil {
		return err
	}
	return os.Remove(local)
}

func (d *DirFS) LocalPath(p string) (string, error) {
	_, local := d.resolve(p)
	if _, err := os.Stat(local); err != nil {
		return "", err
	}
	return local, nil
}
