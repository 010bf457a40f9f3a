package config

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 代理配置
type Config struct {
	MQTTBroker   string `yaml:"mqtt_broker"`
	MQTTPort     string `yaml:"mqtt_port"`
	MQTTUsername string `yaml:"mqtt_username"`
	MQTTPassword string `yaml:"mqtt_password"`
	ClientID     string `yaml:"client_id"`
	DeviceID     string `yaml:"device_id"`

	Backend  string `yaml:"backend"` // sim, adb
	LogLevel string `yaml:"log_level"`

	Workers          int           `yaml:"workers"`
	QueueSize        int           `yaml:"queue_size"`
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
	StopTimeout      time.Duration `yaml:"stop_timeout"`

	CameraFPS      int           `yaml:"camera_fps"`
	ScreenFPS      int           `yaml:"screen_fps"`
	FrameWindow    time.Duration `yaml:"frame_window"`
	FrameBuffer    int           `yaml:"frame_buffer"`
	FrameFormat    string        `yaml:"frame_format"` // json, cbor
	CompressStream bool          `yaml:"compress_stream"`

	EmitAttempts int           `yaml:"emit_attempts"`
	EmitBackoff  time.Duration `yaml:"emit_backoff"`

	StatePath   string `yaml:"state_path"`
	BlobDir     string `yaml:"blob_dir"`
	BlobBaseURL string `yaml:"blob_base_url"`
	FilesRoot   string `yaml:"files_root"`
	APIAddr     string `yaml:"api_addr"`
	OCR         bool   `yaml:"ocr"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		MQTTBroker:       "localhost",
		MQTTPort:         "1883",
		Backend:          "sim",
		LogLevel:         "info",
		Workers:          12,
		QueueSize:        256,
		ReconnectBackoff: 5 * time.Second,
		StopTimeout:      3 * time.Second,
		CameraFPS:        15,
		ScreenFPS:        15,
		FrameWindow:      5 * time.Second,
		FrameBuffer:      4,
		FrameFormat:      "json",
		EmitAttempts:     3,
		EmitBackoff:      200 * time.Millisecond,
		StatePath:        "agent.db",
		BlobDir:          "blobs",
		BlobBaseURL:      "file://blobs",
		FilesRoot:        "/",
		APIAddr:          "127.0.0.1:8080",
	}
}

// LoadConfig 依次从默认值、YAML 文件、.env 文件和环境变量加载配置
func LoadConfig(path string) (*Config, error) {
	config := Default()

	if path == "" {
		path = os.Getenv("AGENT_CONFIG")
	}
	if path != "" {
		if err := loadFromYAML(config, path); err != nil {
			return nil, err
		}
	}

	// .env 文件不存在时忽略
	loadFromEnvFile(config, ".env")
	loadFromEnv(config)

	if config.DeviceID == "" {
		id, err := getSerialNo()
		if err != nil || id == "" {
			return nil, fmt.Errorf("cannot determine device id: set DEVICE_ID or MOCK_SERIAL (%v)", err)
		}
		config.DeviceID = id
	}
	if config.ClientID == "" {
		config.ClientID = "agent_" + config.DeviceID
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	case c.QueueSize < 1:
		return fmt.Errorf("queue_size must be >= 1, got %d", c.QueueSize)
	case c.CameraFPS <= 0 || c.ScreenFPS <= 0:
		return fmt.Errorf("camera_fps and screen_fps must be > 0")
	case c.FrameBuffer < 1:
		return fmt.Errorf("frame_buffer must be >= 1, got %d", c.FrameBuffer)
	case c.EmitAttempts < 1:
		return fmt.Errorf("emit_attempts must be >= 1, got %d", c.EmitAttempts)
	case c.ReconnectBackoff <= 0:
		return fmt.Errorf("reconnect_backoff must be > 0")
	}
	switch c.FrameFormat {
	case "json", "cbor":
	default:
		return fmt.Errorf("unknown frame_format %q", c.FrameFormat)
	}
	switch c.Backend {
	case "sim", "adb":
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	return nil
}

// BrokerURL MQTT 服务器地址
func (c *Config) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%s", c.MQTTBroker, c.MQTTPort)
}

// loadFromYAML 从 YAML 文件加载配置
func loadFromYAML(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// loadFromEnvFile 从.env文件加载配置
func loadFromEnvFile(config *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		apply(config, key, value)
	}

	return scanner.Err()
}

// loadFromEnv 环境变量覆盖（如果存在）
func loadFromEnv(config *Config) {
	for _, key := range envKeys {
		if value := os.Getenv(key); value != "" {
			apply(config, key, value)
		}
	}
}

var envKeys = []string{
	"MQTT_BROKER", "MQTT_PORT", "MQTT_USERNAME", "MQTT_PASSWORD", "MQTT_CLIENT_ID",
	"MOCK_SERIAL", "DEVICE_ID",
	"AGENT_BACKEND", "AGENT_LOG_LEVEL", "AGENT_WORKERS", "AGENT_QUEUE_SIZE",
	"AGENT_RECONNECT_BACKOFF", "AGENT_FRAME_FORMAT", "AGENT_STATE_PATH",
	"AGENT_BLOB_DIR", "AGENT_BLOB_BASE_URL", "AGENT_FILES_ROOT", "AGENT_API_ADDR",
}

// apply 按键名设置配置项，无法解析的数值保持原值
func apply(config *Config, key, value string) {
	switch key {
	case "MQTT_BROKER":
		config.MQTTBroker = value
	case "MQTT_PORT":
		config.MQTTPort = value
	case "MQTT_USERNAME":
		config.MQTTUsername = value
	case "MQTT_PASSWORD":
		config.MQTTPassword = value
	case "MQTT_CLIENT_ID":
		config.ClientID = value
	case "MOCK_SERIAL", "DEVICE_ID":
		config.DeviceID = value
	case "AGENT_BACKEND":
		config.Backend = value
	case "AGENT_LOG_LEVEL":
		config.LogLevel = value
	case "AGENT_WORKERS":
		if n, err := strconv.Atoi(value); err == nil {
			config.Workers = n
		}
	case "AGENT_QUEUE_SIZE":
		if n, err := strconv.Atoi(value); err == nil {
			config.QueueSize = n
		}
	case "AGENT_RECONNECT_BACKOFF":
		if d, err := time.ParseDuration(value); err == nil {
			config.ReconnectBackoff = d
		}
	case "AGENT_FRAME_FORMAT":
		config.FrameFormat = value
	case "AGENT_STATE_PATH":
		config.StatePath = value
	case "AGENT_BLOB_DIR":
		config.BlobDir = value
	case "AGENT_BLOB_BASE_URL":
		config.BlobBaseURL = value
	case "AGENT_FILES_ROOT":
		config.FilesRoot = value
	case "AGENT_API_ADDR":
		config.APIAddr = value
	}
}

// getSerialNo 通过 adb 获取设备序列号
func getSerialNo() (string, error) {
	cmd := exec.Command("adb", "shell", "getprop", "ro.serialno")
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}
