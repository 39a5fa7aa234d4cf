package worker

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		stderr string
		want   Result
	}{
		{
			name:   "json success report",
			stdout: `{"success": true, "code": "CODE_IMPLEMENTED", "output": "implemented the endpoint"}`,
			want:   Result{Success: true, Code: "CODE_IMPLEMENTED", Output: "implemented the endpoint"},
		},
		{
			name:   "json failure report",
			stdout: `{"success": false, "code": "SPEC_AMBIGUOUS_DEV", "error": "two readings of the requirement"}`,
			want:   Result{Success: false, Code: "SPEC_AMBIGUOUS_DEV", Error: "two readings of the requirement"},
		},
		{
			name:   "json without success field defaults from error",
			stdout: `{"output": "done"}`,
			want:   Result{Success: true, Output: "done"},
		},
		{
			name:   "json with error but no success field",
			stdout: `{"error": "broken"}`,
			want:   Result{Success: false, Error: "broken"},
		},
		{
			name:   "json with surrounding whitespace",
			stdout: "\n  {\"success\": true, \"output\": \"ok\"}  \n",
			want:   Result{Success: true, Output: "ok"},
		},
		{
			name:   "plain text is a success payload",
			stdout: "wrote the spec to docs/specs/spec-story-1.md",
			want:   Result{Success: true, Output: "wrote the spec to docs/specs/spec-story-1.md"},
		},
		{
			name:   "malformed json treated as plain text",
			stdout: `{"success": tru`,
			want:   Result{Success: true, Output: `{"success": tru`},
		},
		{
			name:   "empty stdout with stderr is a failure",
			stdout: "",
			stderr: "panic: lost connection\n",
			want:   Result{Success: false, Error: "panic: lost connection"},
		},
		{
			name:   "empty stdout and stderr",
			stdout: "",
			want:   Result{Success: true, Output: ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseResponse([]byte(tt.stdout), []byte(tt.stderr))
			if got != tt.want {
				t.Errorf("parseResponse() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCommandWorkerExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("no command configured", func(t *testing.T) {
		w := &CommandWorker{}
		_, err := w.Execute(ctx, Request{Role: "developer"})
		if err == nil {
			t.Fatal("Execute() without a command should fail")
		}
		if !strings.Contains(err.Error(), "developer") {
			t.Errorf("error %q should name the role", err.Error())
		}
	})

	t.Run("request arrives on stdin", func(t *testing.T) {
		w := &CommandWorker{Command: "cat"}
		res, err := w.Execute(ctx, Request{TaskID: "story-1_backend", Role: "developer"})
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		// cat echoes the JSON request; a JSON object without success or
		// error fields parses as a successful report
		if !res.Success {
			t.Errorf("Execute() result = %+v, want success", res)
		}
	})

	t.Run("json response on stdout", func(t *testing.T) {
		w := &CommandWorker{
			Command: "sh",
			Args:    []string{"-c", `cat >/dev/null; echo '{"success": true, "code": "QA_APPROVED", "output": "all green"}'`},
		}
		res, err := w.Execute(ctx, Request{TaskID: "story-1_manual_testing", Role: "qa"})
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if !res.Success || res.Code != "QA_APPROVED" || res.Output != "all green" {
			t.Errorf("Execute() = %+v", res)
		}
	})

	t.Run("non-zero exit is a transport error", func(t *testing.T) {
		w := &CommandWorker{
			Command: "sh",
			Args:    []string{"-c", "cat >/dev/null; echo boom >&2; exit 3"},
		}
		_, err := w.Execute(ctx, Request{Role: "developer"})
		if err == nil {
			t.Fatal("Execute() with failing command should return an error")
		}
		if !strings.Contains(err.Error(), "boom") {
			t.Errorf("error %q should carry stderr", err.Error())
		}
	})

	t.Run("missing binary is a transport error", func(t *testing.T) {
		w := &CommandWorker{Command: "/nonexistent/agent-binary"}
		if _, err := w.Execute(ctx, Request{Role: "designer"}); err == nil {
			t.Fatal("Execute() with missing binary should return an error")
		}
	})

	t.Run("cancellation kills the subprocess", func(t *testing.T) {
		w := &CommandWorker{
			Command: "sh",
			Args:    []string{"-c", "cat >/dev/null; sleep 30"},
		}
		cancelCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := w.Execute(cancelCtx, Request{Role: "developer"})
		if err == nil {
			t.Fatal("Execute() under a cancelled context should fail")
		}
		if elapsed := time.Since(start); elapsed > 5*time.Second {
			t.Errorf("Execute() took %v after cancellation, subprocess not killed", elapsed)
		}
	})
}

func TestFuncAdapter(t *testing.T) {
	called := false
	w := Func(func(ctx context.Context, req Request) (Result, error) {
		called = true
		return Result{Success: true, Output: "from " + req.Role}, nil
	})

	res, err := w.Execute(context.Background(), Request{Role: "reviewer"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !called || res.Output != "from reviewer" {
		t.Errorf("Func adapter result = %+v", res)
	}
}
