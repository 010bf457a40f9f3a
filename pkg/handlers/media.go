package handlers

import (
	"context"
	"time"

	"mq_agent/pkg/device"
	"mq_agent/pkg/errs"
	"mq_agent/pkg/models"
	"mq_agent/pkg/ocr"
	"mq_agent/pkg/registry"
)

const toggleStartSchema = `{"type":"object","properties":{"start":{"type":["boolean","string"]}}}`

func facing(args models.Args) (string, error) {
	camera := args.String("camera", "back")
	if camera != "back" && camera != "front" {
		return "", errs.Validation("Argument camera must be back or front")
	}
	return camera, nil
}

func (d *Deps) mediaHandlers() []*handler {
	return []*handler{
		{
			desc: registry.Descriptor{
				Action: "take_picture", Domain: DomainMedia, Kind: registry.KindRunOnce,
				Description: "拍照并上传，返回下载地址",
				Schema:      `{"type":"object","properties":{"camera":{"enum":["back","front"]}}}`,
			},
			run: d.takePicture,
		},
		{
			desc: registry.Descriptor{
				Action: "stream_camera", Domain: DomainMedia, Kind: registry.KindStateful, Capability: CapCamera,
				Description: "开始或停止摄像头推流",
				Schema:      `{"type":"object","properties":{"start":{"type":["boolean","string"]},"camera":{"enum":["back","front"]}}}`,
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				start, err := optionalBool(args, "start", true)
				if err != nil {
					return nil, err
				}
				return d.streamCamera(ctx, start, args)
			},
		},
		{
			desc: registry.Descriptor{
				Action: "record_audio", Domain: DomainMedia, Kind: registry.KindRunOnce,
				Description: "录音指定秒数并上传",
				Schema:      `{"type":"object","properties":{"duration":{"type":["integer","string"]}}}`,
			},
			validate: func(args models.Args) error {
				_, err := optionalInt(args, "duration", 30, 1, 600)
				return err
			},
			run: d.recordAudio,
		},
		{
			desc: registry.Descriptor{
				Action: "stream_mic", Domain: DomainMedia, Kind: registry.KindStateful, Capability: CapMic,
				Description: "开始或停止麦克风推流",
				Schema:      toggleStartSchema,
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				start, err := optionalBool(args, "start", true)
				if err != nil {
					return nil, err
				}
				return d.streamMic(ctx, start, args)
			},
		},
		{
			desc: registry.Descriptor{
				Action: "screenshot", Domain: DomainMedia, Kind: registry.KindRunOnce,
				Description: "截屏并上传，ocr=true 时附带识别文字",
				Schema:      `{"type":"object","properties":{"ocr":{"type":["boolean","string"]},"languages":{"type":"string"}}}`,
			},
			run: d.screenshot,
		},
		{
			desc: registry.Descriptor{
				Action: "screen_record", Domain: DomainMedia, Kind: registry.KindStateful, Capability: CapScreen,
				Description: "开始或停止屏幕镜像",
				Schema:      toggleStartSchema,
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				start, err := optionalBool(args, "start", true)
				if err != nil {
					return nil, err
				}
				return d.streamScreen(ctx, start, args)
			},
		},
	}
}

func (d *Deps) takePicture(ctx context.Context, args models.Args) (interface{}, error) {
	camera, err := facing(args)
	if err != nil {
		return nil, err
	}
	image, err := d.Device.Camera.TakePicture(ctx, camera)
	if err != nil {
		return nil, unavailable(err, "Failed to take picture")
	}
	url, err := d.Blobs.PutBytes(ctx, d.blobPath("pictures", ".jpg"), image)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"url": url, "size": len(image), "camera": camera}, nil
}

func (d *Deps) streamCamera(ctx context.Context, start bool, args models.Args) (interface{}, error) {
	camera, err := facing(args)
	if err != nil {
		return nil, err
	}
	acquire := d.streamAcquirer(CapCamera, d.Stream.CameraFPS, func(models.Args) (device.FrameSource, error) {
		return d.Device.Camera.OpenCameraStream(camera)
	})
	return d.toggle(ctx, CapCamera, start, args, acquire, "Camera stream")
}

func (d *Deps) streamMic(ctx context.Context, start bool, args models.Args) (interface{}, error) {
	acquire := d.streamAcquirer(CapMic, 0, func(models.Args) (device.FrameSource, error) {
		return d.Device.Microphone.OpenMicStream()
	})
	return d.toggle(ctx, CapMic, start, args, acquire, "Microphone stream")
}

func (d *Deps) streamScreen(ctx context.Context, start bool, args models.Args) (interface{}, error) {
	acquire := d.streamAcquirer(CapScreen, d.Stream.ScreenFPS, func(models.Args) (device.FrameSource, error) {
		return d.Device.Screen.OpenScreenStream()
	})
	return d.toggle(ctx, CapScreen, start, args, acquire, "Screen recording")
}

func (d *Deps) recordAudio(ctx context.Context, args models.Args) (interface{}, error) {
	seconds, err := optionalInt(args, "duration", 30, 1, 600)
	if err != nil {
		return nil, err
	}
	audio, err := d.Device.Microphone.Record(ctx, time.Duration(seconds)*time.Second)
	if err != nil {
		return nil, unavailable(err, "Failed to record audio")
	}
	url, err := d.Blobs.PutBytes(ctx, d.blobPath("audio", ".pcm"), audio)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"url": url, "size": len(audio), "duration": seconds}, nil
}

func (d *Deps) screenshot(ctx context.Context, args models.Args) (interface{}, error) {
	withText, err := optionalBool(args, "ocr", false)
	if err != nil {
		return nil, err
	}
	if withText && d.OCR == nil {
		return nil, errs.Unsupported("ocr")
	}

	image, err := d.Device.Screen.Capture(ctx)
	if err != nil {
		return nil, unavailable(err, "Failed to capture screen")
	}
	url, err := d.Blobs.PutBytes(ctx, d.blobPath("screenshots", ".png"), image)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{"url": url, "size": len(image)}
	if withText {
		blocks, err := d.OCR.Recognize(image, args.String("languages", ""))
		if err != nil {
			return nil, err
		}
		result["text"] = ocr.JoinText(blocks)
		result["blocks"] = blocks
	}
	return result, nil
}
