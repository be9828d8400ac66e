package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestParseDocuments(t *testing.T) {
	docs, err := parseDocuments("```json\n{\"tailoredResume\":\" R \",\"coverLetter\":\"C\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "R", docs.TailoredResume)
	assert.Equal(t, "C", docs.CoverLetter)
}

func TestParseDocumentsMalformed(t *testing.T) {
	for _, in := range []string{
		"",
		"not json",
		`{"tailoredResume":"only"}`,
		`{"tailoredResume":"","coverLetter":"x"}`,
	} {
		_, err := parseDocuments(in)
		assert.ErrorIs(t, err, ErrMalformedResponse, in)
	}
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"tailoredResume":`), genai.Text(`"a","coverLetter":"b"}`)}},
		}},
	}
	text, err := responseText(resp)
	require.NoError(t, err)
	assert.Equal(t, `{"tailoredResume":"a","coverLetter":"b"}`, text)

	_, err = responseText(&genai.GenerateContentResponse{})
	assert.ErrorIs(t, err, ErrMalformedResponse)

	blocked := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
	}
	_, err = responseText(blocked)
	assert.ErrorIs(t, err, ErrInvalidSource)
}

func TestClassifyError(t *testing.T) {
	ctx := context.Background()

	assert.ErrorIs(t, classifyError(ctx, status.Error(codes.InvalidArgument, "bad pdf")), ErrInvalidSource)
	assert.ErrorIs(t, classifyError(ctx, status.Error(codes.DeadlineExceeded, "slow")), ErrTimeout)
	assert.ErrorIs(t, classifyError(ctx, context.DeadlineExceeded), ErrTimeout)

	upstream := classifyError(ctx, status.Error(codes.Unavailable, "down"))
	assert.False(t, errors.Is(upstream, ErrTimeout))
	assert.False(t, errors.Is(upstream, ErrInvalidSource))

	expired, cancel := context.WithTimeout(ctx, time.Nanosecond)
	defer cancel()
	<-expired.Done()
	assert.ErrorIs(t, classifyError(expired, errors.New("transport closed")), ErrTimeout)

	stopped, stop := context.WithCancel(ctx)
	stop()
	assert.ErrorIs(t, classifyError(stopped, context.Canceled), ErrTimeout)
	assert.ErrorIs(t, classifyError(ctx, status.Error(codes.Canceled, "stream closed")), ErrTimeout)
}

func TestOfflineBackend(t *testing.T) {
	artifact, err := OfflineBackend{}.Generate(context.Background(), Request{
		Source:         []byte("%PDF-1.4"),
		JobDescription: "Senior Go Engineer\nRemote",
		Parameters:     Parameters{PromptVersion: PromptVersion},
	})
	require.NoError(t, err)
	assert.Contains(t, artifact.CoverLetter, "Senior Go Engineer")
	assert.NotContains(t, artifact.CoverLetter, "Remote")
	assert.Equal(t, PromptVersion, artifact.PromptVersion)

	data, err := artifact.Encode()
	require.NoError(t, err)
	decoded, err := DecodeArtifact(data)
	require.NoError(t, err)
	assert.Equal(t, artifact.TailoredResume, decoded.TailoredResume)

	_, err = OfflineBackend{}.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrInvalidSource)
}
