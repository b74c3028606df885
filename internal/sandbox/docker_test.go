package sandbox

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultSandboxConfig()
	cfg.Timeout = 10 * time.Second
	return cfg
}

func findArg(args []string, flag string) (string, bool) {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}

func TestBuildArgs_Limits(t *testing.T) {
	d := &DockerRunner{}
	req := &ExecutionRequest{Code: "go test ./...", Image: "docker.io/library/golang:1.24-alpine"}

	args, err := d.buildArgs("patchgate-abc", req, testConfig(), "/tmp/ws")
	if err != nil {
		t.Fatalf("buildArgs = %v", err)
	}

	if args[0] != "run" || args[1] != "--rm" {
		t.Errorf("args start with %v, want [run --rm ...]", args[:2])
	}
	if v, _ := findArg(args, "--name"); v != "patchgate-abc" {
		t.Errorf("--name = %q", v)
	}
	if v, _ := findArg(args, "--memory"); v != "512m" {
		t.Errorf("--memory = %q", v)
	}
	if v, _ := findArg(args, "--memory-swap"); v != "512m" {
		t.Errorf("--memory-swap = %q", v)
	}
	if v, _ := findArg(args, "--cpus"); v != "1.00" {
		t.Errorf("--cpus = %q", v)
	}
	if v, _ := findArg(args, "--cap-drop"); v != "ALL" {
		t.Errorf("--cap-drop = %q", v)
	}
	if v, _ := findArg(args, "-v"); v != "/tmp/ws:/workspace" {
		t.Errorf("-v = %q", v)
	}
	if v, _ := findArg(args, "-w"); v != "/workspace" {
		t.Errorf("-w = %q", v)
	}
	if v, _ := findArg(args, "--network"); v != "none" {
		t.Errorf("--network = %q, want none by default", v)
	}

	// Plain command lines are split into argv, not wrapped in a shell.
	tail := args[len(args)-4:]
	want := []string{req.Image, "go", "test", "./..."}
	if !reflect.DeepEqual(tail, want) {
		t.Errorf("command tail = %v, want %v", tail, want)
	}
}

func TestBuildArgs_NetworkEnabled(t *testing.T) {
	d := &DockerRunner{}
	cfg := testConfig()
	cfg.NetworkEnabled = true

	args, err := d.buildArgs("n", &ExecutionRequest{Code: "true", Image: "alpine"}, cfg, "/tmp/ws")
	if err != nil {
		t.Fatalf("buildArgs = %v", err)
	}
	if _, found := findArg(args, "--network"); found {
		t.Errorf("--network present with networking enabled: %v", args)
	}
}

func TestBuildArgs_ShellMetacharacters(t *testing.T) {
	d := &DockerRunner{}
	code := "go test ./... && echo done"

	args, err := d.buildArgs("n", &ExecutionRequest{Code: code, Image: "alpine"}, testConfig(), "/tmp/ws")
	if err != nil {
		t.Fatalf("buildArgs = %v", err)
	}
	tail := args[len(args)-3:]
	if !reflect.DeepEqual(tail, []string{"/bin/sh", "-c", code}) {
		t.Errorf("command tail = %v, want shell wrapper", tail)
	}
}

func TestBuildArgs_SortedEnv(t *testing.T) {
	d := &DockerRunner{}
	req := &ExecutionRequest{
		Code:  "true",
		Image: "alpine",
		Environment: map[string]string{
			"ZED":   "3",
			"ALPHA": "1",
			"MID":   "2",
		},
	}

	args, err := d.buildArgs("n", req, testConfig(), "/tmp/ws")
	if err != nil {
		t.Fatalf("buildArgs = %v", err)
	}

	var envs []string
	for i, a := range args {
		if a == "-e" && i+1 < len(args) {
			envs = append(envs, args[i+1])
		}
	}
	want := []string{"ALPHA=1", "MID=2", "ZED=3"}
	if !reflect.DeepEqual(envs, want) {
		t.Errorf("env args = %v, want %v", envs, want)
	}
}

func TestBuildArgs_BadMemoryLimit(t *testing.T) {
	d := &DockerRunner{}
	cfg := testConfig()
	cfg.MemoryLimit = "lots"

	if _, err := d.buildArgs("n", &ExecutionRequest{Code: "true", Image: "alpine"}, cfg, "/tmp/ws"); err == nil {
		t.Fatal("buildArgs accepted unparseable memory limit")
	}
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     ExecutionRequest
		cfg     Config
		wantErr bool
	}{
		{"valid", ExecutionRequest{Code: "true", Image: "alpine"}, testConfig(), false},
		{"empty code", ExecutionRequest{Code: "  \n", Image: "alpine"}, testConfig(), true},
		{"missing image", ExecutionRequest{Code: "true"}, testConfig(), true},
		{"zero timeout", ExecutionRequest{Code: "true", Image: "alpine"}, Config{MemoryLimit: "512m"}, true},
		{
			"bad env key",
			ExecutionRequest{Code: "true", Image: "alpine", Environment: map[string]string{"BAD-KEY": "x"}},
			testConfig(),
			true,
		},
		{
			"good env key",
			ExecutionRequest{Code: "true", Image: "alpine", Environment: map[string]string{"GOOD_KEY_2": "x"}},
			testConfig(),
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRequest(&tt.req, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateRequest = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("error %v does not wrap ErrInvalidRequest", err)
			}
		})
	}
}

func TestParseMemoryLimit(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"512m", 512 << 20, false},
		{"2g", 2 << 30, false},
		{"131072k", 131072 << 10, false},
		{"1048576", 1048576, false},
		{"1G", 1 << 30, false},
		{" 64m ", 64 << 20, false},
		{"", 0, true},
		{"lots", 0, true},
		{"-1m", 0, true},
		{"0", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMemoryLimit(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMemoryLimit(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseMemoryLimit(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestExecutionErrorUnwrap(t *testing.T) {
	err := &ExecutionError{ExecID: "abc", Op: "validate", Err: ErrInvalidRequest}
	if !errors.Is(err, ErrInvalidRequest) {
		t.Error("ExecutionError does not unwrap to its cause")
	}
	if err.Error() == "" {
		t.Error("Error() is empty")
	}
}
