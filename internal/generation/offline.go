package generation

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// OfflineBackend は外部サービスを呼ばずに決定的な文書を返します。
// 認証情報のないローカル開発環境で使用します。
type OfflineBackend struct{}

// Generate は求人票の冒頭を使った定型文書を返します。
func (OfflineBackend) Generate(ctx context.Context, req Request) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, classifyError(ctx, err)
	}
	if len(req.Source) == 0 {
		return nil, fmt.Errorf("%w: empty source", ErrInvalidSource)
	}

	headline := firstLine(req.JobDescription, 80)
	return &Artifact{
		Documents: Documents{
			TailoredResume: fmt.Sprintf("SUMMARY\nCandidate profile prepared for: %s\n\nSOURCE\n%d bytes of master resume", headline, len(req.Source)),
			CoverLetter:    fmt.Sprintf("Dear Hiring Manager,\n\nI am applying for the role described as \"%s\".\n\nSincerely,\nThe Candidate", headline),
		},
		Model:         "offline",
		PromptVersion: req.Parameters.PromptVersion,
	}, nil
}

func firstLine(s string, max int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
