package server

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/zhubert/plural-refactor/project"
	"github.com/zhubert/plural-refactor/provider"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Request
		wantErr bool
	}{
		{name: "relative", line: `["main.py", 120]`, want: Request{File: "main.py", Offset: 120}},
		{name: "absolute", line: `["/abs/path/main.py",0]`, want: Request{File: "/abs/path/main.py", Offset: 0}},
		{name: "not json", line: `main.py 120`, wantErr: true},
		{name: "object", line: `{"file":"main.py","offset":1}`, wantErr: true},
		{name: "one element", line: `["main.py"]`, wantErr: true},
		{name: "three elements", line: `["main.py", 1, 2]`, wantErr: true},
		{name: "file not a string", line: `[1, 2]`, wantErr: true},
		{name: "empty file", line: `["", 2]`, wantErr: true},
		{name: "offset is a string", line: `["main.py", "12"]`, wantErr: true},
		{name: "offset is fractional", line: `["main.py", 1.5]`, wantErr: true},
		{name: "negative offset", line: `["main.py", -1]`, wantErr: true},
		{name: "null offset", line: `["main.py", null]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequest(tt.line)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedRequest) {
					t.Fatalf("err = %v, want ErrMalformedRequest", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRequest: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if files := Normalize(project.Changeset{}); files == nil || len(files) != 0 {
		t.Errorf("empty changeset normalized to %#v", files)
	}

	cs := project.Changeset{Changes: []project.Change{
		{Resource: project.Resource{Path: "/p/b.py", Rel: "b.py"}, NewContents: "b"},
		{Resource: project.Resource{Path: "/p/a.py", Rel: "a.py"}, NewContents: ""},
	}}
	files := Normalize(cs)
	want := []ChangedFile{{Path: "/p/b.py", NewContents: "b"}, {Path: "/p/a.py", NewContents: ""}}
	if len(files) != len(want) {
		t.Fatalf("got %d files, want %d", len(files), len(want))
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("file %d = %+v, want %+v", i, files[i], want[i])
		}
	}
}

func TestEnvelope_EmptyIsArray(t *testing.T) {
	data, err := json.Marshal(Envelope(nil))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[]" {
		t.Errorf("empty envelope = %s, want []", data)
	}

	failed := []provider.Result{{Provider: "inline", Failure: &provider.Failure{Err: errors.New("no")}}}
	data, err = json.Marshal(Envelope(failed))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[]" {
		t.Errorf("all-failed envelope = %s, want []", data)
	}
}

func TestEnvelope_ChangedFilesNeverNull(t *testing.T) {
	results := []provider.Result{{Provider: "inline"}}
	data, err := json.Marshal(Envelope(results))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `[{"type":"inline","changed_files":[]}]` {
		t.Errorf("got %s", data)
	}
}
