package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/zhubert/plural-refactor/project"
	"github.com/zhubert/plural-refactor/provider"
)

// ReadyText is the message sent once the project is analyzed and the start
// line has been read.
const ReadyText = "ready"

// ErrMalformedRequest is returned for input lines that are not a
// [file, offset] pair.
var ErrMalformedRequest = errors.New("malformed request")

// ReadyMessage is the readiness marker, {"message":"ready"}.
type ReadyMessage struct {
	Message string `json:"message"`
}

// Refactor is one applicable transformation in a response envelope.
type Refactor struct {
	Type         string        `json:"type"`
	ChangedFiles []ChangedFile `json:"changed_files"`
}

// ChangedFile carries the complete proposed contents of one file.
type ChangedFile struct {
	Path        string `json:"path"`
	NewContents string `json:"new_contents"`
}

// Request is a parsed location request.
type Request struct {
	File   string
	Offset int
}

// ParseRequest decodes a ["path", offset] line. The offset must be a
// non-negative integer literal.
func ParseRequest(line string) (Request, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(line), &parts); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if len(parts) != 2 {
		return Request{}, fmt.Errorf("%w: expected 2 elements, got %d", ErrMalformedRequest, len(parts))
	}

	var req Request
	if err := json.Unmarshal(parts[0], &req.File); err != nil {
		return Request{}, fmt.Errorf("%w: file must be a string", ErrMalformedRequest)
	}
	if req.File == "" {
		return Request{}, fmt.Errorf("%w: file is empty", ErrMalformedRequest)
	}

	offset, err := strconv.Atoi(strings.TrimSpace(string(parts[1])))
	if err != nil {
		return Request{}, fmt.Errorf("%w: offset must be an integer", ErrMalformedRequest)
	}
	if offset < 0 {
		return Request{}, fmt.Errorf("%w: offset %d is negative", ErrMalformedRequest, offset)
	}
	req.Offset = offset
	return req, nil
}

// Normalize converts a changeset into the file list of the wire format,
// preserving order. The result is never nil.
func Normalize(cs project.Changeset) []ChangedFile {
	files := make([]ChangedFile, 0, len(cs.Changes))
	for _, c := range cs.Changes {
		files = append(files, ChangedFile{Path: c.Resource.Path, NewContents: c.NewContents})
	}
	return files
}

// Envelope builds the response for one request from the provider results:
// successful providers in registry order, failed ones omitted.
func Envelope(results []provider.Result) []Refactor {
	out := make([]Refactor, 0, len(results))
	for _, r := range provider.Successes(results) {
		out = append(out, Refactor{Type: r.Provider, ChangedFiles: Normalize(r.Changeset)})
	}
	return out
}
