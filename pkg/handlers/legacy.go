package handlers

import (
	"context"
	"path"

	"mq_agent/pkg/models"
	"mq_agent/pkg/registry"
)

// legacyStream 旧版 START_/STOP_ 指令，对应新指令的开关
func (d *Deps) legacyStream(action, description string, start bool, capability string,
	toggle func(ctx context.Context, start bool, args models.Args) (interface{}, error)) *handler {
	return &handler{
		desc: registry.Descriptor{
			Action: action, Domain: DomainMedia, Kind: registry.KindStateful, Capability: capability,
			Description: description,
		},
		run: func(ctx context.Context, args models.Args) (interface{}, error) {
			return toggle(ctx, start, args)
		},
	}
}

func (d *Deps) legacyHandlers() []*handler {
	return []*handler{
		d.legacyStream("START_MIC", "旧版指令，同 stream_mic start=true", true, CapMic, d.streamMic),
		d.legacyStream("STOP_MIC", "旧版指令，同 stream_mic start=false", false, CapMic, d.streamMic),
		d.legacyStream("START_CAMERA", "旧版指令，同 stream_camera start=true", true, CapCamera, d.streamCamera),
		d.legacyStream("STOP_CAMERA", "旧版指令，同 stream_camera start=false", false, CapCamera, d.streamCamera),
		d.legacyStream("START_SCREEN", "旧版指令，同 screen_record start=true", true, CapScreen, d.streamScreen),
		d.legacyStream("STOP_SCREEN", "旧版指令，同 screen_record start=false", false, CapScreen, d.streamScreen),
		{
			desc: registry.Descriptor{
				Action: "LIST_FILES", Domain: DomainFiles, Kind: registry.KindRunOnce,
				Description: "旧版指令，同 list_files",
				Schema:      `{"type":"object","properties":{"path":{"type":"string"}}}`,
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				return d.listFiles(args.String("path", "/"))
			},
		},
		{
			desc: registry.Descriptor{
				Action: "READ_FILE", Domain: DomainFiles, Kind: registry.KindRunOnce,
				Description: "旧版指令，同 read_file", Schema: pathSchema,
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				return d.readFile(args.String("path", ""))
			},
		},
		{
			desc: registry.Descriptor{
				Action: "WRITE_FILE", Domain: DomainFiles, Kind: registry.KindRunOnce,
				Description: "旧版指令，同 write_file",
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
				Action: "DOWNLOAD_FILE", Domain: DomainFiles, Kind: registry.KindRunOnce,
				Description: "旧版指令，把设备文件上传到对象存储", Schema: pathSchema,
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				p := args.String("path", "")
				name := path.Base(p)
				result, err := d.uploadFile(ctx, p, "files/"+d.DeviceID+"/"+name)
				if err != nil {
					return nil, err
				}
				result["name"] = name
				return result, nil
			},
		},
	}
}
