// Package ocr 截图文字识别
package ocr

import "strings"

// TextBlock 识别出的一段文字及其位置
type TextBlock struct {
	Text       string  `json:"text"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Provider OCR 引擎
type Provider interface {
	// Recognize 识别图片中的文字
	Recognize(imageData []byte) ([]TextBlock, error)
	SetLanguages(languages []string) error
	SupportedLanguages() []string
	Close() error
	Name() string
}

// EngineType 引擎类型
type EngineType string

const (
	EngineTesseract EngineType = "tesseract"
)

// JoinText 按识别顺序拼接文字
func JoinText(blocks []TextBlock) string {
	words := make([]string, 0, len(blocks))
	for _, b := range blocks {
		words = append(words, b.Text)
	}
	return strings.Join(words, " ")
}
