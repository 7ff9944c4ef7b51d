package task

import (
	"fmt"

	"github.com/MFaiqKhan/sweepjudge/internal/domain"
)

// PartKind discriminates the Part union.
type PartKind string

const (
	PartText PartKind = "text"
	PartFile PartKind = "file"
	PartData PartKind = "data"
)

// FileRef points at file content either inline or by URI, never both.
type FileRef struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Bytes    []byte `json:"bytes,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// Part is one typed piece of an artifact.
type Part struct {
	Kind     PartKind       `json:"kind"`
	Text     string         `json:"text,omitempty"`
	File     *FileRef       `json:"file,omitempty"`
	Data     any            `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) Part { return Part{Kind: PartText, Text: text} }

// FileURIPart builds a file part referencing uri.
func FileURIPart(name, mimeType, uri string) Part {
	return Part{Kind: PartFile, File: &FileRef{Name: name, MimeType: mimeType, URI: uri}}
}

// DataPart builds a structured-data part.
func DataPart(data any) Part { return Part{Kind: PartData, Data: data} }

// Validate checks that the fields match the part kind.
func (p *Part) Validate() error {
	switch p.Kind {
	case PartText:
		return nil
	case PartFile:
		if p.File == nil {
			return fmt.Errorf("%w: file part without file", domain.ErrValidation)
		}
		if (len(p.File.Bytes) == 0) == (p.File.URI == "") {
			return fmt.Errorf("%w: file part needs exactly one of bytes or uri", domain.ErrValidation)
		}
		return nil
	case PartData:
		if p.Data == nil {
			return fmt.Errorf("%w: data part without data", domain.ErrValidation)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown part kind %q", domain.ErrValidation, p.Kind)
	}
}

// Artifact is typed output a worker attaches to a task it handled.
// Once attached it is never modified; stores only append.
type Artifact struct {
	Name        string         `json:"name"`
	Parts       []Part         `json:"parts"`
	Description string         `json:"description,omitempty"`
	Index       *int           `json:"index,omitempty"`
	Append      bool           `json:"append,omitempty"`
	LastChunk   bool           `json:"lastChunk,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Validate checks the artifact and all of its parts.
func (a *Artifact) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("%w: artifact name is required", domain.ErrValidation)
	}
	for i := range a.Parts {
		if err := a.Parts[i].Validate(); err != nil {
			return fmt.Errorf("artifact %s part %d: %w", a.Name, i, err)
		}
	}
	return nil
}

// Text concatenates every text part, separated by blank lines.
func (a *Artifact) Text() string {
	var out string
	for _, p := range a.Parts {
		if p.Kind != PartText || p.Text == "" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += p.Text
	}
	return out
}
