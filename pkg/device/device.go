// Package device 定义处理器调用的平台能力接口，并提供模拟设备和 adb 两种实现
package device

import (
	"context"
	"io"
	"time"
)

// FrameSource 事件驱动的采集源，Start 后每有一帧调用一次 onFrame
type FrameSource interface {
	Start(onFrame func(payload []byte)) error
	Stop() error
}

// Camera 摄像头
type Camera interface {
	TakePicture(ctx context.Context, facing string) ([]byte, error)
	OpenCameraStream(facing string) (FrameSource, error)
}

// Microphone 麦克风
type Microphone interface {
	Record(ctx context.Context, duration time.Duration) ([]byte, error)
	OpenMicStream() (FrameSource, error)
}

// Screen 屏幕采集
type Screen interface {
	Capture(ctx context.Context) ([]byte, error)
	OpenScreenStream() (FrameSource, error)
}

// Fix 一次定位结果
type Fix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"`
}

// Locator 定位服务
type Locator interface {
	CurrentLocation(ctx context.Context) (*Fix, error)
	WatchLocation(interval time.Duration, onFix func(Fix)) (io.Closer, error)
}

// InfoProvider 设备信息
type InfoProvider interface {
	DeviceInfo(ctx context.Context) (map[string]interface{}, error)
}

// Apps 应用管理
type Apps interface {
	LaunchApp(ctx context.Context, packageName string) error
	CloseApp(ctx context.Context, packageName string) error
}

// Browser 打开链接
type Browser interface {
	OpenURL(ctx context.Context, url string) error
}

// Radios 无线开关
type Radios interface {
	SetWiFi(ctx context.Context, enabled bool) error
	SetBluetooth(ctx context.Context, enabled bool) error
}

// Vibrator 振动
type Vibrator interface {
	Vibrate(ctx context.Context, duration time.Duration) error
}

// Notifier 提示消息
type Notifier interface {
	Toast(ctx context.Context, message string, long bool) error
}

// Clipboard 剪贴板
type Clipboard interface {
	ReadClipboard(ctx context.Context) (string, error)
	WriteClipboard(ctx context.Context, text string) error
}

// InputEvent 注入的输入事件
type InputEvent struct {
	Action string `json:"action"` // tap, swipe, text, key, back, home
	X      int    `json:"x"`
	Y      int    `json:"y"`
	X2     int    `json:"x2,omitempty"`
	Y2     int    `json:"y2,omitempty"`
	Text   string `json:"text,omitempty"`
}

// Input 输入注入
type Input interface {
	InjectInput(ctx context.Context, event InputEvent) error
}

// Display 屏幕亮度，取值 0-255
type Display interface {
	SetBrightness(ctx context.Context, level int) error
}

// Audio 音量
type Audio interface {
	MaxVolume(ctx context.Context, stream int) (int, error)
	SetVolume(ctx context.Context, stream, level int) error
}

// Admin 需要设备管理员权限的操作。调用前由处理器检查 AdminActive。
type Admin interface {
	AdminActive() bool
	LockDevice(ctx context.Context) error
	Reboot(ctx context.Context) error
	PowerOff(ctx context.Context) error
	WipeData(ctx context.Context) error
	ChangePIN(ctx context.Context, pin string) error
	LockApp(ctx context.Context, packageName string, locked bool) error
}

// KeyEvents 无障碍服务的按键事件源
type KeyEvents interface {
	OpenKeyEvents() (FrameSource, error)
}

// Launcher 启动器图标
type Launcher interface {
	SetIconHidden(ctx context.Context, hidden bool) error
}

// FileInfo 文件列表条目
type FileInfo struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	IsDirectory  bool   `json:"isDirectory"`
	Size         int64  `json:"size"`
	LastModified int64  `json:"lastModified"`
}

// FileSystem 设备文件系统
type FileSystem interface {
	List(path string) ([]FileInfo, error)
	Stat(path string) (*FileInfo, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	Remove(path string) error
	// LocalPath 返回宿主机上可直接打开的路径
	LocalPath(path string) (string, error)
}

// Downloader 下载远程文件到设备
type Downloader interface {
	Download(ctx context.Context, url, dest string) (int64, error)
}

// Device 一台设备的全部能力
type Device struct {
	Camera     Camera
	Microphone Microphone
	Screen     Screen
	Location   Locator
	Info       InfoProvider
	Apps       Apps
	Browser    Browser
	Radios     Radios
	Vibrator   Vibrator
	Notifier   Notifier
	Clipboard  Clipboard
	Input      Input
	Display    Display
	Audio      Audio
	Admin      Admin
	KeyEvents  KeyEvents
	Launcher   Launcher
	Files      FileSystem
	Downloader Downloader
}
