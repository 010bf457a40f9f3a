package ocr

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"mq_agent/pkg/logx"
)

var meaningfulChar = regexp.MustCompile(`[0-9a-zA-Z\x{4e00}-\x{9fff}\x{3040}-\x{309f}\x{30a0}-\x{30ff}\x{ac00}-\x{d7af}+\-=<>!@#$%&*()]`)

// TesseractProvider 基于 Tesseract 的 OCR。gosseract 客户端不支持并发，调用串行化。
type TesseractProvider struct {
	mu     sync.Mutex
	client *gosseract.Client
	logger logx.Logger
}

// NewTesseractProvider 创建 Tesseract 引擎，多语言不可用时退回英文
func NewTesseractProvider(logger logx.Logger) (*TesseractProvider, error) {
	client := gosseract.NewClient()

	if err := client.SetLanguage("eng+chi_sim+jpn+kor"); err != nil {
		logger.Warn("Failed to set multi-language support, falling back to English: %v", err)
		if err := client.SetLanguage("eng"); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to initialize Tesseract OCR engine: %v", err)
		}
	}
	client.SetPageSegMode(gosseract.PSM_AUTO)

	return &TesseractProvider{client: client, logger: logger}, nil
}

// Recognize 识别文字，过滤置信度低于 30 的结果
func (tp *TesseractProvider) Recognize(imageData []byte) ([]TextBlock, error) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if err := tp.client.SetImageFromBytes(imageData); err != nil {
		return nil, fmt.Errorf("failed to set image data: %v", err)
	}
	boxes, err := tp.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("failed to get bounding boxes: %v", err)
	}

	var blocks []TextBlock
	for _, box := range boxes {
		if box.Confidence < 30.0 {
			continue
		}
		text := strings.TrimSpace(box.Word)
		if text == "" {
			continue
		}
		if len([]rune(text)) == 1 && !meaningfulChar.MatchString(text) {
			continue
		}
		blocks = append(blocks, TextBlock{
			Text:       text,
			X:          box.Box.Min.X,
			Y:          box.Box.Min.Y,
			Width:      box.Box.Max.X - box.Box.Min.X,
			Height:     box.Box.Max.Y - box.Box.Min.Y,
			Confidence: box.Confidence,
			Source:     string(EngineTesseract),
		})
	}

	tp.logger.Debug("Tesseract extracted %d text elements", len(blocks))
	return blocks, nil
}

func (tp *TesseractProvider) SetLanguages(languages []string) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.client.SetLanguage(strings.Join(languages, "+"))
}

func (tp *TesseractProvider) SupportedLanguages() []string {
	return []string{"eng", "chi_sim", "jpn", "kor"}
}

func (tp *TesseractProvider) Close() error {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.client.Close()
}

func (tp *TesseractProvider) Name() string {
	return "Tesseract"
}
