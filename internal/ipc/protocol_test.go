package ipc

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/tangthinker/watchman/internal/backup"
)

func TestCommandRoundTrip(t *testing.T) {
	t.Parallel()
	cmd, err := NewCommand(CmdEdit, JobPayload{Index: 2, Job: backup.Draft{
		SourcePath:     "/src",
		DestPath:       "/dst",
		PeriodHours:    6,
		SkipExtensions: []string{"log"},
		ArchiveEnabled: true,
	}})
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}

	var buf bytes.Buffer
	if err := Write(&buf, cmd); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := ReadCommand(&buf)
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	if got.Type != CmdEdit {
		t.Fatalf("type = %s", got.Type)
	}
	var p JobPayload
	if err := got.Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Index != 2 || p.Job.PeriodHours != 6 || !p.Job.ArchiveEnabled || p.Job.SkipExtensions[0] != "log" {
		t.Fatalf("payload = %+v", p)
	}
}

func TestCommandMissingPayload(t *testing.T) {
	t.Parallel()
	cmd, _ := NewCommand(CmdDelete, nil)
	var p IndexPayload
	if err := cmd.Decode(&p); err == nil {
		t.Fatal("expected error for missing payload")
	}
}

func TestResponses(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := Write(&buf, NewResponse(AddResult{Index: 1, Dest: "/dst"}, nil)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	resp, err := ReadResponse(&buf)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.Err() != nil {
		t.Fatalf("Err = %v", resp.Err())
	}
	var res AddResult
	if err := resp.Decode(&res); err != nil || res.Index != 1 || res.Dest != "/dst" {
		t.Fatalf("data = %+v, err = %v", res, err)
	}

	failed := NewResponse(nil, errors.New("backup already running"))
	if failed.Success || failed.Err() == nil || failed.Err().Error() != "backup already running" {
		t.Fatalf("failed response = %+v", failed)
	}

	if _, err := ReadResponse(strings.NewReader("not json")); err == nil {
		t.Fatal("expected decode error")
	}
}
