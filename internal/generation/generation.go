// Package generation は職務経歴書とカバーレターを生成するバックエンドを提供します。
package generation

import (
	"encoding/json"
	"errors"
)

// PromptVersion はプロンプトの版です。ジョブのパラメータに記録されます。
const PromptVersion = "tailored-resume-v1"

var (
	// ErrInvalidSource はソースドキュメントが生成に使えない場合に返されます。
	ErrInvalidSource = errors.New("generation: invalid source document")
	// ErrMalformedResponse はバックエンドの応答が期待する形式でない場合に返されます。
	ErrMalformedResponse = errors.New("generation: malformed backend response")
	// ErrTimeout はバックエンドが時間内に応答しなかった場合に返されます。
	ErrTimeout = errors.New("generation: backend timed out")
)

// Parameters は投入時点で固定されるモデル設定のスナップショットです。
type Parameters struct {
	Model           string  `json:"model" bson:"model"`
	Temperature     float32 `json:"temperature" bson:"temperature"`
	MaxOutputTokens int32   `json:"maxOutputTokens" bson:"maxOutputTokens"`
	PromptVersion   string  `json:"promptVersion" bson:"promptVersion"`
}

// Request は1回の生成呼び出しの入力です。
type Request struct {
	JobID             string
	Source            []byte
	SourceContentType string
	JobDescription    string
	Parameters        Parameters
}

// Documents は生成された文書です。
type Documents struct {
	TailoredResume string `json:"tailoredResume"`
	CoverLetter    string `json:"coverLetter"`
}

// Artifact はオブジェクトストレージに保存される成果物です。
type Artifact struct {
	Documents
	Model         string `json:"model"`
	PromptVersion string `json:"promptVersion"`
}

// ContentType は成果物の Content-Type です。
const ContentType = "application/json"

// Encode は成果物を JSON にします。
func (a *Artifact) Encode() ([]byte, error) {
	return json.Marshal(a)
}

// DecodeArtifact は保存済みの成果物を読み込みます。
func DecodeArtifact(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
