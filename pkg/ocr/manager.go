package ocr

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"mq_agent/pkg/logx"
)

// Manager 管理多个 OCR 引擎
type Manager struct {
	mu            sync.RWMutex
	providers     map[EngineType]Provider
	defaultEngine EngineType
	logger        logx.Logger
}

// NewManager 创建空的管理器
func NewManager(logger logx.Logger) *Manager {
	if logger == nil {
		logger = logx.Nop{}
	}
	return &Manager{
		providers:     make(map[EngineType]Provider),
		defaultEngine: EngineTesseract,
		logger:        logger,
	}
}

// NewTesseractManager 创建管理器并注册 Tesseract。引擎不可用时返回错误。
func NewTesseractManager(logger logx.Logger) (*Manager, error) {
	m := NewManager(logger)
	provider, err := NewTesseractProvider(m.logger)
	if err != nil {
		return nil, err
	}
	m.Register(EngineTesseract, provider)
	m.logger.Info("OCR ready, default engine: %s", provider.Name())
	return m, nil
}

// Register 注册引擎
func (m *Manager) Register(engine EngineType, provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[engine] = provider
}

// SetDefault 设置默认引擎
func (m *Manager) SetDefault(engine EngineType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[engine]; !ok {
		return fmt.Errorf("OCR engine %s is not available", engine)
	}
	m.defaultEngine = engine
	return nil
}

func (m *Manager) provider() (Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.providers[m.defaultEngine]; ok {
		return p, nil
	}
	// 默认引擎不可用时使用任意一个
	for _, p := range m.providers {
		return p, nil
	}
	return nil, fmt.Errorf("no OCR providers available")
}

// Recognize 用默认引擎识别，languages 形如 "eng+chi_sim"
func (m *Manager) Recognize(imageData []byte, languages string) ([]TextBlock, error) {
	p, err := m.provider()
	if err != nil {
		return nil, err
	}
	if languages != "" {
		if err := p.SetLanguages(strings.Split(languages, "+")); err != nil {
			m.logger.Warn("Failed to set OCR languages %s: %v", languages, err)
		}
	}
	return p.Recognize(imageData)
}

// Engines 已注册的引擎
func (m *Manager) Engines() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	engines := make([]string, 0, len(m.providers))
	for e := range m.providers {
		engines = append(engines, string(e))
	}
	sort.Strings(engines)
	return engines
}

// Close 关闭所有引擎
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.providers {
		if err := p.Close(); err != nil {
			m.logger.Error("Error closing OCR provider %s: %v", p.Name(), err)
		}
	}
	return nil
}
