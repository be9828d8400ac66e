package generation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const systemPrompt = "You are a careful resume and cover letter writer. " +
	"Use only facts that appear in the attached master resume. " +
	"Never invent employers, dates, skills or credentials."

const userPromptTemplate = `Write a tailored resume and a cover letter for the job below, using the attached master resume as the only source of facts.

JOB DESCRIPTION:
---
%s
---

Resume rules:
- Plain text, ATS friendly, section headers in ALL CAPS (SUMMARY, SKILLS, WORK EXPERIENCE, CERTIFICATIONS, EDUCATION).
- First line is the candidate name, second line the contact details found in the resume.
- Job lines read "Title, Company (Location) (Start - End)" followed by bullet points starting with "• ".
- Keep only the experience and skills relevant to the job.

Cover letter rules:
- Three to four short paragraphs addressed to the hiring manager.
- Refer to concrete experience from the resume that matches the job.

Respond with a single JSON object and nothing else:
{"tailoredResume": "<resume text>", "coverLetter": "<cover letter text>"}`

func buildUserPrompt(jobDescription string) string {
	return fmt.Sprintf(userPromptTemplate, strings.TrimSpace(jobDescription))
}

// parseDocuments はモデルの出力テキストから Documents を取り出します。
func parseDocuments(text string) (*Documents, error) {
	content := strings.TrimSpace(text)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty output", ErrMalformedResponse)
	}

	var docs Documents
	if err := json.Unmarshal([]byte(content), &docs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	docs.TailoredResume = strings.TrimSpace(docs.TailoredResume)
	docs.CoverLetter = strings.TrimSpace(docs.CoverLetter)
	if docs.TailoredResume == "" || docs.CoverLetter == "" {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, errors.New("missing tailoredResume or coverLetter"))
	}
	return &docs, nil
}
