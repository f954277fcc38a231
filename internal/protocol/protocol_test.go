package protocol

import (
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/devctl/internal/testutil/testlog"
)

func TestParseCommand(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		line string
		want Command
	}{
		{"list\n", Command{Op: OpList}},
		{"list /code\n", Command{Op: OpList, Arg: "/code"}},
		{"pull code/index.js\r\n", Command{Op: OpPull, Arg: "code/index.js"}},
		{"remove my file.txt", Command{Op: OpRemove, Arg: "my file.txt"}},
		{"PUSH", Command{Op: OpPush}},
		{"commit /a/b.js", Command{Op: OpCommit, Arg: "/a/b.js"}},
		{"stats", Command{Op: OpStats}},
		{"exit", Command{Op: OpExit}},
	}
	for _, tc := range cases {
		got, err := ParseCommand(tc.line)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.line, err)
		}
		if got != tc.want {
			t.Fatalf("parse %q: got=%+v want=%+v", tc.line, got, tc.want)
		}
	}
}

func TestParseCommandErrors(t *testing.T) {
	testlog.Start(t)
	if _, err := ParseCommand("   \n"); !errors.Is(err, ErrEmptyLine) {
		t.Fatalf("expected ErrEmptyLine, got %v", err)
	}
	if _, err := ParseCommand("format disk"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
	if _, err := ParseCommand("pull"); !errors.Is(err, ErrMissingArgument) {
		t.Fatalf("expected ErrMissingArgument, got %v", err)
	}
	if _, err := ParseCommand("pull " + strings.Repeat("a", MaxLineBytes)); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}
}

func TestCommandLineRoundTrip(t *testing.T) {
	testlog.Start(t)
	for _, c := range []Command{{Op: OpStats}, {Op: OpCommit, Arg: "dir/x y.js"}} {
		got, err := ParseCommand(c.Line())
		if err != nil || got != c {
			t.Fatalf("round trip %+v: got=%+v err=%v", c, got, err)
		}
	}
}

func TestErrorText(t *testing.T) {
	testlog.Start(t)
	line := EncodeError("no such file\nor directory")
	if line != "ERR no such file or directory\n" {
		t.Fatalf("unexpected encoding: %q", line)
	}
	if msg, ok := ErrorText(line); !ok || msg != "no such file or directory" {
		t.Fatalf("unexpected decode: %q %v", msg, ok)
	}
	if msg, ok := ErrorText("QUJD" + line); !ok || msg != "no such file or directory" {
		t.Fatalf("unexpected mid-line decode: %q %v", msg, ok)
	}
	if _, ok := ErrorText("QUJDRA==\n"); ok {
		t.Fatalf("base64 line misread as error")
	}
}
