// Package extract 提供 MIME 探测和文本抽取，作为存储的可选协作者注入
package extract

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"binstore/pkg/core"
	"binstore/pkg/storage"

	"github.com/gabriel-vasile/mimetype"
)

const (
	octetStream = "application/octet-stream"

	// DefaultMaxTextBytes 文本抽取的默认上限
	DefaultMaxTextBytes = 1 << 20
)

// MimeDetector 按内容探测 MIME，探测不出时退回文件扩展名
type MimeDetector struct{}

var _ core.Detector = MimeDetector{}

func (MimeDetector) Detect(ctx context.Context, nameHint string, h *core.Handle) (string, error) {
	mt, err := sniff(ctx, h)
	if err != nil {
		return "", err
	}
	if mt.Is(octetStream) && nameHint != "" {
		if byExt := mime.TypeByExtension(filepath.Ext(nameHint)); byExt != "" {
			return byExt, nil
		}
	}
	return mt.String(), nil
}

// TextExtractor 对文本类内容 (text/*, JSON, XML 等) 返回前 MaxBytes 字节
type TextExtractor struct {
	MaxBytes int64
}

var _ storage.Extractor = TextExtractor{}

func (e TextExtractor) ExtractText(ctx context.Context, h *core.Handle) (string, error) {
	mt, err := sniff(ctx, h)
	if err != nil {
		return "", err
	}
	if !isText(mt) {
		return "", nil
	}

	limit := e.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxTextBytes
	}
	rc, err := h.Open(ctx)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", h.Key(), err)
	}
	// 截断可能切开一个多字节字符
	for len(data) > 0 && !utf8.Valid(data) {
		data = data[:len(data)-1]
	}
	return string(data), nil
}

func sniff(ctx context.Context, h *core.Handle) (*mimetype.MIME, error) {
	rc, err := h.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	mt, err := mimetype.DetectReader(rc)
	if err != nil {
		return nil, fmt.Errorf("detect %s: %w", h.Key(), err)
	}
	return mt, nil
}

// isText 沿着 MIME 层级向上找 text/plain (JSON、CSV、HTML 等都以它为祖先)
func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") || strings.HasPrefix(m.String(), "text/") {
			return true
		}
	}
	return false
}
