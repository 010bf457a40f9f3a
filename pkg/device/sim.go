package device

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// Simulator 确定性的模拟设备。没有真实硬件时作为默认后端，也用于测试。
type Simulator struct {
	mu sync.Mutex

	adminActive bool
	maxVolume   int
	volumes     map[int]int
	brightness  int
	wifi        bool
	bluetooth   bool
	clipboard   string
	running     map[string]bool
	lockedApps  map[string]bool
	iconHidden  bool
	locked      bool
	pin         string
	fix         Fix
	busy        map[string]error
	calls       []string

	// FrameInterval 合成采集源的出帧间隔
	FrameInterval time.Duration
}

// NewSimulator 创建模拟设备，音量上限 15，管理员权限未激活
func NewSimulator() *Simulator {
	return &Simulator{
		maxVolume:     15,
		volumes:       make(map[int]int),
		brightness:    128,
		running:       make(map[string]bool),
		lockedApps:    make(map[string]bool),
		busy:          make(map[string]error),
		fix:           Fix{Latitude: 31.2304, Longitude: 121.4737, Accuracy: 12.5},
		FrameInterval: 20 * time.Millisecond,
	}
}

// NewSimulatorDevice 用模拟设备和给定文件系统组装一台设备
func NewSimulatorDevice(sim *Simulator, files FileSystem) *Device {
	return &Device{
		Camera:     sim,
		Microphone: sim,
		Screen:     sim,
		Location:   sim,
		Info:       sim,
		Apps:       sim,
		Browser:    sim,
		Radios:     sim,
		Vibrator:   sim,
		Notifier:   sim,
		Clipboard:  sim,
		Input:      sim,
		Display:    sim,
		Audio:      sim,
		Admin:      sim,
		KeyEvents:  sim,
		Launcher:   sim,
		Files:      files,
		Downloader: NewHTTPDownloader(files),
	}
}

// SetAdminActive 切换设备管理员状态
func (s *Simulator) SetAdminActive(active bool) {
	s.mu.Lock()
	s.adminActive = active
	s.mu.Unlock()
}

// SetBusy 让某个能力的采集返回 err，err 为 nil 时恢复
func (s *Simulator) SetBusy(capability string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.busy, capability)
		return
	}
	s.busy[capability] = err
}

// Calls 返回所有有副作用的调用记录
func (s *Simulator) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Volume 当前音量
func (s *Simulator) Volume(stream int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volumes[stream]
}

// Brightness 当前亮度
func (s *Simulator) Brightness() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.brightness
}

// Locked 屏幕是否已锁定
func (s *Simulator) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

func (s *Simulator) record(format string, args ...interface{}) {
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
}

func (s *Simulator) check(capability string) error {
	if err := s.busy[capability]; err != nil {
		return err
	}
	return nil
}

func (s *Simulator) source(capability string) (FrameSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(capability); err != nil {
		return nil, err
	}
	s.record("open %s", capability)
	return &syntheticSource{name: capability, interval: s.FrameInterval}, nil
}

func (s *Simulator) TakePicture(ctx context.Context, facing string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("camera"); err != nil {
		return nil, err
	}
	s.record("take_picture %s", facing)
	return []byte("jpeg:" + facing), nil
}

func (s *Simulator) OpenCameraStream(facing string) (FrameSource, error) {
	return s.source("camera")
}

func (s *Simulator) Record(ctx context.Context, duration time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("mic"); err != nil {
		return nil, err
	}
	s.record("record %s", duration)
	return []byte(fmt.Sprintf("pcm:%d", duration.Milliseconds())), nil
}

func (s *Simulator) OpenMicStream() (FrameSource, error) {
	return s.source("mic")
}

func (s *Simulator) Capture(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("screen"); err != nil {
		return nil, err
	}
	s.record("screenshot")
	return []byte("png:screen"), nil
}

func (s *Simulator) OpenScreenStream() (FrameSource, error) {
	return s.source("screen")
}

func (s *Simulator) CurrentLocation(ctx context.Context) (*Fix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("location"); err != nil {
		return nil, err
	}
	fix := s.fix
	fix.Timestamp = time.Now().UnixMilli()
	return &fix, nil
}

func (s *Simulator) WatchLocation(interval time.Duration, onFix func(Fix)) (io.Closer, error) {
	s.mu.Lock()
	if err := s.check("location"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.record("watch_location %s", interval)
	base := s.fix
	s.mu.Unlock()

	w := &ticker{done: make(chan struct{}), finished: make(chan struct{})}
	go func() {
		defer close(w.finished)
		t := time.NewTicker(interval)
		defer t.Stop()
		for n := 0; ; n++ {
			select {
			case <-w.done:
				return
			case <-t.C:
				fix := base
				fix.Latitude += float64(n) * 0.0001
				fix.Timestamp = time.Now().UnixMilli()
				onFix(fix)
			}
		}
	}()
	return w, nil
}

func (s *Simulator) DeviceInfo(ctx context.Context) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]interface{}{
		"manufacturer":         "Simulator",
		"model":                "sim-1",
		"android_version":      "14",
		"sdk_version":          34,
		"battery_level":        87.0,
		"network_type":         "WIFI",
		"network_connected":    s.wifi,
		"installed_apps_count": len(s.running),
	}, nil
}

func (s *Simulator) LaunchApp(ctx context.Context, packageName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("launch %s", packageName)
	s.running[packageName] = true
	return nil
}

func (s *Simulator) CloseApp(ctx context.Context, packageName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("close %s", packageName)
	delete(s.running, packageName)
	return nil
}

func (s *Simulator) OpenURL(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("open_url %s", url)
	return nil
}

func (s *Simulator) SetWiFi(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("wifi %t", enabled)
	s.wifi = enabled
	return nil
}

func (s *Simulator) SetBluetooth(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("bluetooth %t", enabled)
	s.bluetooth = enabled
	return nil
}

func (s *Simulator) Vibrate(ctx context.Context, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("vibrate %s", duration)
	return nil
}

func (s *Simulator) Toast(ctx context.Context, message string, long bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("toast %s", message)
	return nil
}

func (s *Simulator) ReadClipboard(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clipboard, nil
}

func (s *Simulator) WriteClipboard(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("clipboard_write")
	s.clipboard = text
	return nil
}

func (s *Simulator) InjectInput(ctx context.Context, event InputEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("input %s %d %d", event.Action, event.X, event.Y)
	return nil
}

func (s *Simulator) SetBrightness(ctx context.Context, level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("brightness %d", level)
	s.brightness = level
	return nil
}

func (s *Simulator) MaxVolume(ctx context.Context, stream int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxVolume, nil
}

func (s *Simulator) SetVolume(ctx context.Context, stream, level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("volume %d %d", stream, level)
	s.volumes[stream] = level
	return nil
}

func (s *Simulator) AdminActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adminActive
}

func (s *Simulator) LockDevice(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("lock")
	s.locked = true
	return nil
}

func (s *Simulator) Reboot(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("reboot")
	return nil
}

func (s *Simulator) PowerOff(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("power_off")
	return nil
}

func (s *Simulator) WipeData(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("wipe")
	return nil
}

func (s *Simulator) ChangePIN(ctx context.Context, pin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("change_pin")
	s.pin = pin
	return nil
}

func (s *Simulator) LockApp(ctx context.Context, packageName string, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("lock_app %s %t", packageName, locked)
	if locked {
		s.lockedApps[packageName] = true
	} else {
		delete(s.lockedApps, packageName)
	}
	return nil
}

// LockedApps 已锁定的应用
func (s *Simulator) LockedApps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	apps := make([]string, 0, len(s.lockedApps))
	for app := range s.lockedApps {
		apps = append(apps, app)
	}
	sort.Strings(apps)
	return apps
}

func (s *Simulator) OpenKeyEvents() (FrameSource, error) {
	return s.source("keylogger")
}

func (s *Simulator) SetIconHidden(ctx context.Context, hidden bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("icon_hidden %t", hidden)
	s.iconHidden = hidden
	return nil
}

// syntheticSource 按固定间隔产出 "<name>-<n>" 的采集源
type syntheticSource struct {
	name     string
	interval time.Duration

	mu      sync.Mutex
	running *ticker
}

func (s *syntheticSource) Start(onFrame func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running != nil {
		return fmt.Errorf("%s source already started", s.name)
	}

	w := &ticker{done: make(chan struct{}), finished: make(chan struct{})}
	s.running = w
	go func() {
		defer close(w.finished)
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for n := 1; ; n++ {
			select {
			case <-w.done:
				return
			case <-t.C:
				onFrame([]byte(fmt.Sprintf("%s-%d", s.name, n)))
			}
		}
	}()
	return nil
}

func (s *syntheticSource) Stop() error {
	s.mu.Lock()
	w := s.running
	s.running = nil
	s.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}

// ticker 后台循环的停止句柄，Close 等待循环退出
type ticker struct {
	once     sync.Once
	done     chan struct{}
	finished chan struct{}
}

func (t *ticker) Close() error {
	t.once.Do(func() { close(t.done) })
	<-t.finished
	return nil
}
