package main

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
)

type fakeMigrator struct {
	upErr      error
	versionErr error
	steps      int
	forced     int
	calls      []string
}

func (f *fakeMigrator) Up() error {
	f.calls = append(f.calls, "up")
	return f.upErr
}

func (f *fakeMigrator) Down() error {
	f.calls = append(f.calls, "down")
	return nil
}

func (f *fakeMigrator) Steps(n int) error {
	f.calls = append(f.calls, "steps")
	f.steps = n
	return nil
}

func (f *fakeMigrator) Version() (uint, bool, error) {
	f.calls = append(f.calls, "version")
	return 1, false, f.versionErr
}

func (f *fakeMigrator) Force(version int) error {
	f.calls = append(f.calls, "force")
	f.forced = version
	return nil
}

// TestRun verifies command dispatch and the errors treated as success
func TestRun(t *testing.T) {
	tests := []struct {
		name    string
		m       *fakeMigrator
		command string
		args    []string
		wantErr bool
	}{
		{"up", &fakeMigrator{}, "up", nil, false},
		{"up without changes", &fakeMigrator{upErr: migrate.ErrNoChange}, "up", nil, false},
		{"up failure", &fakeMigrator{upErr: errors.New("syntax error")}, "up", nil, true},
		{"down", &fakeMigrator{}, "down", nil, false},
		{"steps", &fakeMigrator{}, "steps", []string{"-1"}, false},
		{"steps without number", &fakeMigrator{}, "steps", nil, true},
		{"version", &fakeMigrator{}, "version", nil, false},
		{"version before first migration", &fakeMigrator{versionErr: migrate.ErrNilVersion}, "version", nil, false},
		{"force", &fakeMigrator{}, "force", []string{"1"}, false},
		{"force with bad number", &fakeMigrator{}, "force", []string{"one"}, true},
		{"unknown", &fakeMigrator{}, "sideways", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(tt.m, tt.command, tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("run(%q) error = %v, wantErr %v", tt.command, err, tt.wantErr)
			}
		})
	}
}

// TestRun_Arguments verifies numeric arguments reach the migrator
func TestRun_Arguments(t *testing.T) {
	m := &fakeMigrator{}
	if err := run(m, "steps", []string{"-1"}); err != nil {
		t.Fatalf("steps failed: %v", err)
	}
	if err := run(m, "force", []string{"3"}); err != nil {
		t.Fatalf("force failed: %v", err)
	}
	if m.steps != -1 || m.forced != 3 {
		t.Errorf("steps = %d, forced = %d; want -1, 3", m.steps, m.forced)
	}
	if len(m.calls) != 2 {
		t.Errorf("calls = %v", m.calls)
	}
}
