package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"io/fs"
	"net/url"
	"path"

	"mq_agent/pkg/errs"
	"mq_agent/pkg/models"
	"mq_agent/pkg/registry"
)

const pathSchema = `{"type":"object","required":["path"],"properties":{"path":{"type":"string","minLength":1}}}`

// fileError 把文件系统错误转换为面向操作端的消息
func fileError(err error, format, p string) error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) {
		return errs.New(errs.ErrResourceUnavailable, format, p)
	}
	if errors.Is(err, fs.ErrPermission) {
		return errs.Permission("Permission denied: %s", p)
	}
	return err
}

func (d *Deps) fileHandlers() []*handler {
	return []*handler{
		{
			desc: registry.Descriptor{
				Action: "list_files", Domain: DomainFiles, Kind: registry.KindRunOnce,
				Description: "列出目录内容，默认根目录",
				Schema:      `{"type":"object","properties":{"path":{"type":"string"}}}`,
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				return d.listFiles(args.String("path", "/"))
			},
		},
		{
			desc: registry.Descriptor{
				Action: "read_file", Domain: DomainFiles, Kind: registry.KindRunOnce,
				Description: "读取文件，内容以 base64 返回", Schema: pathSchema,
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				return d.readFile(args.String("path", ""))
			},
		},
		{
			desc: registry.Descriptor{
				Action: "write_file", Domain: DomainFiles, Kind: registry.KindRunOnce,
				Description: "写入 base64 内容，自动创建父目录",
				Schema:      `{"type":"object","required":["path","content"],"properties":{"path":{"type":"string","minLength":1},"content":{"type":"string"}}}`,
			},
			validate: func(args models.Args) error {
				_, err := decodeContent(args)
				return err
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				data, err := decodeContent(args)
				if err != nil {
					return nil, err
				}
				return d.writeFile(args.String("path", ""), data)
			},
		},
		{
			desc: registry.Descriptor{
				Action: "delete_file", Domain: DomainFiles, Kind: registry.KindRunOnce,
				Description: "删除文件或空目录", Schema: pathSchema,
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				p := args.String("path", "")
				if err := d.Device.Files.Remove(p); err != nil {
					return nil, fileError(err, "File not found: %s", p)
				}
				return "File deleted: " + p, nil
			},
		},
		{
			desc: registry.Descriptor{
				Action: "download_file", Domain: DomainFiles, Kind: registry.KindRunOnce,
				Description: "从 url 下载文件到设备的 local_path",
				Schema:      `{"type":"object","required":["url","local_path"],"properties":{"url":{"type":"string","minLength":1},"local_path":{"type":"string","minLength":1}}}`,
			},
			validate: func(args models.Args) error {
				u, err := url.Parse(args.String("url", ""))
				if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
					return errs.Validation("Invalid URL: %s", args.String("url", ""))
				}
				return nil
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				dest := args.String("local_path", "")
				size, err := d.Device.Downloader.Download(ctx, args.String("url", ""), dest)
				if err != nil {
					return nil, unavailable(err, "Download failed")
				}
				return map[string]interface{}{"path": dest, "size": size}, nil
			},
		},
		{
			desc: registry.Descriptor{
				Action: "upload_file", Domain: DomainFiles, Kind: registry.KindRunOnce,
				Description: "上传设备文件到对象存储，返回下载地址",
				Schema:      `{"type":"object","required":["local_path"],"properties":{"local_path":{"type":"string","minLength":1},"remote_path":{"type":"string"}}}`,
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				p := args.String("local_path", "")
				remote := args.String("remote_path", "")
				if remote == "" {
					remote = "files/" + d.DeviceID + "/" + path.Base(p)
				}
				return d.uploadFile(ctx, p, remote)
			},
		},
	}
}

func decodeContent(args models.Args) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(args.String("content", ""))
	if err != nil {
		return nil, errs.Validation("Content is not valid base64")
	}
	return data, nil
}

func (d *Deps) listFiles(p string) (interface{}, error) {
	files, err := d.Device.Files.List(p)
	if err != nil {
		return nil, fileError(err, "Invalid directory: %s", p)
	}
	return files, nil
}

func (d *Deps) readFile(p string) (interface{}, error) {
	data, err := d.Device.Files.ReadFile(p)
	if err != nil {
		return nil, fileError(err, "File not found: %s", p)
	}
	return map[string]interface{}{
		"path":    p,
		"size":    len(data),
		"content": base64.StdEncoding.EncodeToString(data),
	}, nil
}

func (d *Deps) writeFile(p string, data []byte) (interface{}, error) {
	if err := d.Device.Files.WriteFile(p, data); err != nil {
		return nil, fileError(err, "Cannot write file: %s", p)
	}
	return "File written: " + p, nil
}

func (d *Deps) uploadFile(ctx context.Context, p, remote string) (map[string]interface{}, error) {
	info, err := d.Device.Files.Stat(p)
	if err != nil {
		return nil, fileError(err, "File not found: %s", p)
	}
	if info.IsDirectory {
		return nil, errs.Validation("Not a file: %s", p)
	}
	local, err := d.Device.Files.LocalPath(p)
	if err != nil {
		return nil, fileError(err, "File not found: %s", p)
	}
	url, err := d.Blobs.PutFile(ctx, remote, local)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"url": url, "size": info.Size}, nil
}
