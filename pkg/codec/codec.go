// Package codec 将流式帧编码为可传输的表示
package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"mq_agent/pkg/models"
)

// 帧格式
const (
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

// EncodingZstd 载荷经过 zstd 压缩
const EncodingZstd = "zstd"

// jsonEnvelope JSON 帧，载荷为 base64 文本
type jsonEnvelope struct {
	Capability string `json:"capability"`
	Sequence   int64  `json:"sequence"`
	CapturedAt int64  `json:"captured_at"`
	Encoding   string `json:"encoding,omitempty"`
	Data       string `json:"data"`
}

// cborEnvelope CBOR 帧，整数键，载荷为原始字节
type cborEnvelope struct {
	Capability string `cbor:"1,keyasint"`
	Sequence   int64  `cbor:"2,keyasint"`
	CapturedAt int64  `cbor:"3,keyasint"`
	Encoding   string `cbor:"4,keyasint,omitempty"`
	Data       []byte `cbor:"5,keyasint"`
}

// Codec 帧编解码器，可并发使用
type Codec struct {
	format   string
	compress bool
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
}

// New 创建编解码器
func New(format string, compress bool) (*Codec, error) {
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatCBOR {
		return nil, fmt.Errorf("unknown frame format %q", format)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &Codec{format: format, compress: compress, encoder: encoder, decoder: decoder}, nil
}

// Format 返回帧格式
func (c *Codec) Format() string {
	return c.format
}

// Encode 编码一帧
func (c *Codec) Encode(frame *models.Frame) ([]byte, error) {
	data := frame.Payload
	encoding := ""
	if c.compress {
		data = c.encoder.EncodeAll(frame.Payload, nil)
		encoding = EncodingZstd
	}

	if c.format == FormatCBOR {
		return cbor.Marshal(cborEnvelope{
			Capability: frame.Capability,
			Sequence:   frame.Sequence,
			CapturedAt: frame.CapturedAt,
			Encoding:   encoding,
			Data:       data,
		})
	}
	return json.Marshal(jsonEnvelope{
		Capability: frame.Capability,
		Sequence:   frame.Sequence,
		CapturedAt: frame.CapturedAt,
		Encoding:   encoding,
		Data:       base64.StdEncoding.EncodeToString(data),
	})
}

// Decode 解码一帧，供操作端和测试使用
func (c *Codec) Decode(raw []byte) (*models.Frame, error) {
	var (
		frame    models.Frame
		encoding string
	)

	if c.format == FormatCBOR {
		var env cborEnvelope
		if err := cbor.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("decode cbor frame: %w", err)
		}
		frame = models.Frame{Capability: env.Capability, Sequence: env.Sequence, CapturedAt: env.CapturedAt, Payload: env.Data}
		encoding = env.Encoding
	} else {
		var env jsonEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("decode json frame: %w", err)
		}
		data, err := base64.StdEncoding.DecodeString(env.Data)
		if err != nil {
			return nil, fmt.Errorf("decode frame payload: %w", err)
		}
		frame = models.Frame{Capability: env.Capability, Sequence: env.Sequence, CapturedAt: env.CapturedAt, Payload: data}
		encoding = env.Encoding
	}

	switch encoding {
	case "":
	case EncodingZstd:
		data, err := c.decoder.DecodeAll(frame.Payload, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress frame: %w", err)
		}
		frame.Payload = data
	default:
		return nil, fmt.Errorf("unknown frame encoding %q", encoding)
	}
	return &frame, nil
}
