package device

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPDownloader 通过 HTTP 下载文件并写入设备文件系统
type HTTPDownloader struct {
	Client *http.Client
	Files  FileSystem
}

// NewHTTPDownloader 创建下载器
func NewHTTPDownloader(files FileSystem) *HTTPDownloader {
	return &HTTPDownloader{
		Client: &http.Client{Timeout: 5 * time.Minute},
		Files:  files,
	}
}

func (h *HTTPDownloader) Download(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download failed: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if err := h.Files.WriteFile(dest, data); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}
