package channel

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DirBlobStore 基于本地目录的大文件存储，下载地址为 <BaseURL>/<path>
type DirBlobStore struct {
	Dir     string
	BaseURL string
}

// NewDirBlobStore 创建目录存储
func NewDirBlobStore(dir, baseURL string) *DirBlobStore {
	return &DirBlobStore{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}
}

func (s *DirBlobStore) target(path string) (string, string) {
	clean := strings.TrimPrefix(filepath.ToSlash(filepath.Clean("/"+path)), "/")
	return filepath.Join(s.Dir, filepath.FromSlash(clean)), s.BaseURL + "/" + clean
}

// PutBytes 写入数据
func (s *DirBlobStore) PutBytes(ctx context.Context, path string, data []byte) (string, error) {
	local, url := s.target(path)
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return url, nil
}

// PutFile 复制本地文件
func (s *DirBlobStore) PutFile(ctx context.Context, path, localPath string) (string, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	local, url := s.target(path)
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	dst, err := os.Create(local)
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("copy blob: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("close blob: %w", err)
	}
	return url, nil
}
