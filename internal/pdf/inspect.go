package pdf

import (
	"bytes"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

const mimePDF = "application/pdf"

// Limits は検査時に適用する上限です。0 以下の値は無制限を意味します。
type Limits struct {
	MaxBytes int64
	MaxPages int
}

// Info は検査済みドキュメントのメタデータです。
type Info struct {
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Pages       int    `json:"pages"`
}

// Inspect は data が読み込み可能なPDFであることを確認し、ページ数を返します。
func Inspect(data []byte, limits Limits) (*Info, error) {
	if len(data) == 0 {
		return nil, newError("INVALID_INPUT", "ファイルが空です。", nil)
	}
	size := int64(len(data))
	if limits.MaxBytes > 0 && size > limits.MaxBytes {
		return nil, newError("LIMIT_EXCEEDED",
			fmt.Sprintf("ファイルサイズが上限（%dバイト）を超えています。", limits.MaxBytes), nil)
	}

	mtype := mimetype.Detect(data)
	if !mtype.Is(mimePDF) {
		return nil, newError("INVALID_INPUT", "PDFファイルのみアップロードできます。",
			fmt.Errorf("detected content type %s", mtype.String()))
	}

	pages, err := pdfapi.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return nil, newError("INVALID_PDF", "PDFを読み込めませんでした。", err)
	}
	if pages <= 0 {
		return nil, newError("INVALID_PDF", "ページを含まないPDFです。", nil)
	}
	if limits.MaxPages > 0 && pages > limits.MaxPages {
		return nil, newError("LIMIT_EXCEEDED",
			fmt.Sprintf("ページ数が上限（%dページ）を超えています。", limits.MaxPages), nil)
	}

	return &Info{
		ContentType: mimePDF,
		Size:        size,
		Pages:       pages,
	}, nil
}
