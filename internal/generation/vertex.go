package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// VertexBackend は Vertex AI の Gemini モデルで文書を生成します。
type VertexBackend struct {
	client *genai.Client
}

// NewVertexBackend は Vertex AI クライアントを作成します。
func NewVertexBackend(ctx context.Context, projectID, region string) (*VertexBackend, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexBackend: projectID and region cannot be empty")
	}
	client, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &VertexBackend{client: client}, nil
}

// Close はクライアントを閉じます。
func (b *VertexBackend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

// Generate はソースPDFと求人票から文書を生成します。
func (b *VertexBackend) Generate(ctx context.Context, req Request) (*Artifact, error) {
	if len(req.Source) == 0 {
		return nil, fmt.Errorf("%w: empty source", ErrInvalidSource)
	}

	model := b.client.GenerativeModel(req.Parameters.Model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr(req.Parameters.Temperature),
	}
	if req.Parameters.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(req.Parameters.MaxOutputTokens)
	}

	contentType := req.SourceContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	resp, err := model.GenerateContent(ctx,
		genai.Blob{MIMEType: contentType, Data: req.Source},
		genai.Text(buildUserPrompt(req.JobDescription)),
	)
	if err != nil {
		return nil, classifyError(ctx, err)
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}
	docs, err := parseDocuments(text)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Documents:     *docs,
		Model:         req.Parameters.Model,
		PromptVersion: req.Parameters.PromptVersion,
	}, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrMalformedResponse)
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: blocked by safety filter", ErrInvalidSource)
	}
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty candidate", ErrMalformedResponse)
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String(), nil
}

// classifyError はバックエンドのエラーをワーカーが扱える分類に変換します。
func classifyError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	switch status.Code(err) {
	case codes.DeadlineExceeded, codes.Canceled:
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case codes.InvalidArgument, codes.FailedPrecondition:
		return fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	return fmt.Errorf("generation backend: %w", err)
}
