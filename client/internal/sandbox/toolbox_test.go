package sandbox

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/qualdev/fleet/client/internal/chat"
)

func newTestToolbox(t *testing.T) (*Toolbox, string) {
	t.Helper()
	dir := t.TempDir()
	tb := NewLocal(dir, "/tmp/repo", 5*time.Second)
	t.Cleanup(func() { _ = tb.Close() })
	return tb, dir
}

func run1(t *testing.T, tb *Toolbox, in chat.ToolInput) chat.Block {
	t.Helper()
	res := tb.Execute(t.Context(), []chat.Block{chat.ToolCall("t1", in)})
	if len(res) != 1 {
		t.Fatalf("len = %d, want 1", len(res))
	}
	if res[0].Type != chat.BlockToolResult || res[0].ToolID != "t1" {
		t.Fatalf("got %+v", res[0])
	}
	return res[0]
}

func TestEdit(t *testing.T) {
	tb, dir := newTestToolbox(t)
	t.Run("Create", func(t *testing.T) {
		res := run1(t, tb, chat.EditCreate{Path: "/tmp/repo/src/a.txt", FileText: "one\ntwo\nthree\nfour"})
		if res.IsError || res.Result != "Successfully created file /tmp/repo/src/a.txt" {
			t.Fatalf("got %+v", res)
		}
		data, err := os.ReadFile(filepath.Join(dir, "src", "a.txt"))
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "one\ntwo\nthree\nfour" {
			t.Errorf("got %q", data)
		}
	})
	t.Run("ViewDir", func(t *testing.T) {
		res := run1(t, tb, chat.EditView{Path: "/tmp/repo/src"})
		if res.Result != "a.txt" {
			t.Errorf("got %q, want %q", res.Result, "a.txt")
		}
	})
	t.Run("ViewRange", func(t *testing.T) {
		tests := []struct {
			r    []int
			want string
		}{
			{nil, "one\ntwo\nthree\nfour"},
			{[]int{2, -1}, "two\nthree\nfour"},
			{[]int{1, 3}, "one\ntwo"},
			{[]int{3, 2}, ""},
			{[]int{1, 99}, "one\ntwo\nthree\nfour"},
		}
		for _, tt := range tests {
			res := run1(t, tb, chat.EditView{Path: "src/a.txt", ViewRange: tt.r})
			if res.Result != tt.want {
				t.Errorf("view_range %v: got %q, want %q", tt.r, res.Result, tt.want)
			}
		}
	})
	t.Run("StrReplace", func(t *testing.T) {
		res := run1(t, tb, chat.EditStrReplace{Path: "src/a.txt", OldStr: "two", NewStr: "2"})
		if res.Result != "Successfully replaced text in src/a.txt" {
			t.Errorf("got %q", res.Result)
		}
		res = run1(t, tb, chat.EditStrReplace{Path: "src/a.txt", OldStr: "missing", NewStr: "x"})
		if res.Result != "Text to replace not found in src/a.txt" {
			t.Errorf("got %q", res.Result)
		}
		res = run1(t, tb, chat.EditStrReplace{Path: "src/a.txt", OldStr: "o", NewStr: "0"})
		if !strings.HasPrefix(res.Result, "Found 2 matches") {
			t.Errorf("got %q", res.Result)
		}
	})
	t.Run("Insert", func(t *testing.T) {
		res := run1(t, tb, chat.EditInsert{Path: "src/a.txt", InsertLine: 1, InsertText: "1.5"})
		if res.Result != "Successfully inserted text at line 1 in src/a.txt" {
			t.Errorf("got %q", res.Result)
		}
		data, _ := os.ReadFile(filepath.Join(dir, "src", "a.txt"))
		if string(data) != "one\n1.5\n2\nthree\nfour" {
			t.Errorf("got %q", data)
		}
	})
	t.Run("Missing", func(t *testing.T) {
		res := run1(t, tb, chat.EditView{Path: "nope.txt"})
		if !res.IsError || !strings.HasPrefix(res.Result, "Error: ") {
			t.Errorf("got %+v", res)
		}
	})
	t.Run("UnknownTool", func(t *testing.T) {
		res := run1(t, tb, chat.SetupInput("x"))
		if !res.IsError || res.Result != "Error: Unknown tool: setup" {
			t.Errorf("got %+v", res)
		}
	})
}

func TestBash(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	tb, dir := newTestToolbox(t)
	t.Run("Output", func(t *testing.T) {
		res := run1(t, tb, chat.BashInput{Command: "echo hello; echo oops >&2"})
		want := "\n```bash\n$ echo hello; echo oops >&2\nhello\noops\n```\n"
		if res.IsError || res.Result != want {
			t.Errorf("got %q, want %q", res.Result, want)
		}
	})
	t.Run("Persistent", func(t *testing.T) {
		if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
			t.Fatal(err)
		}
		run1(t, tb, chat.BashInput{Command: "cd sub && export FOO=bar"})
		res := run1(t, tb, chat.BashInput{Command: "basename $PWD; echo $FOO"})
		if !strings.Contains(res.Result, "\nsub\nbar\n") {
			t.Errorf("got %q", res.Result)
		}
	})
	t.Run("NoTrailingNewline", func(t *testing.T) {
		res := run1(t, tb, chat.BashInput{Command: "printf abc"})
		if !strings.Contains(res.Result, "\nabc\n") {
			t.Errorf("got %q", res.Result)
		}
	})
	t.Run("Restart", func(t *testing.T) {
		res := run1(t, tb, chat.BashInput{Restart: true})
		if res.Result != "Bash restarted" {
			t.Errorf("got %q", res.Result)
		}
		res = run1(t, tb, chat.BashInput{Command: "echo ${FOO:-unset}"})
		if !strings.Contains(res.Result, "\nunset\n") {
			t.Errorf("got %q", res.Result)
		}
	})
	t.Run("Timeout", func(t *testing.T) {
		tb.Timeout = 200 * time.Millisecond
		res := run1(t, tb, chat.BashInput{Command: "sleep 5"})
		tb.Timeout = 5 * time.Second
		if !strings.Contains(res.Result, "Error: Command timed out after") {
			t.Errorf("got %q", res.Result)
		}
		res = run1(t, tb, chat.BashInput{Command: "echo alive"})
		if !strings.Contains(res.Result, "\nalive\n") {
			t.Errorf("got %q", res.Result)
		}
	})
	t.Run("Exit", func(t *testing.T) {
		res := run1(t, tb, chat.BashInput{Command: "exit 1"})
		if !strings.Contains(res.Result, "shell exited") {
			t.Errorf("got %q", res.Result)
		}
		res = run1(t, tb, chat.BashInput{Command: "echo back"})
		if !strings.Contains(res.Result, "\nback\n") {
			t.Errorf("got %q", res.Result)
		}
	})
}

func TestOpen(t *testing.T) {
	tb, closeFn, err := Open("", "", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	dir := tb.FS.(*Local).Dir
	if _, err := os.Stat(dir); err != nil {
		t.Fatal(err)
	}
	if err := closeFn(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("temporary dir %s not removed: %v", dir, err)
	}
}
