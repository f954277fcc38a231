package protocol

import (
	"fmt"
	"strings"
)

// Op names one storage command.
type Op string

const (
	OpList   Op = "list"
	OpPull   Op = "pull"
	OpRemove Op = "remove"
	OpPush   Op = "push"
	OpChunk  Op = "chunk"
	OpCommit Op = "commit"
	OpStats  Op = "stats"
	OpExit   Op = "exit"
)

// MaxLineBytes bounds one request line.
const MaxLineBytes = 4096

const errPrefix = "ERR "

// Command is one decoded request line.
type Command struct {
	Op  Op
	Arg string
}

// needsArg lists ops whose argument is mandatory; list takes an optional prefix.
var needsArg = map[Op]bool{
	OpPull:   true,
	OpRemove: true,
	OpCommit: true,
}

var known = map[Op]bool{
	OpList: true, OpPull: true, OpRemove: true, OpPush: true,
	OpChunk: true, OpCommit: true, OpStats: true, OpExit: true,
}

// ParseCommand splits line at the first space into op and argument. The
// argument keeps interior spaces so filenames may contain them.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) > MaxLineBytes {
		return Command{}, ErrLineTooLong
	}
	if strings.TrimSpace(line) == "" {
		return Command{}, ErrEmptyLine
	}

	op, arg, _ := strings.Cut(strings.TrimLeft(line, " "), " ")
	cmd := Command{Op: Op(strings.ToLower(op)), Arg: arg}
	if !known[cmd.Op] {
		return Command{}, fmt.Errorf("%w %q", ErrUnknownCommand, op)
	}
	if needsArg[cmd.Op] && cmd.Arg == "" {
		return Command{}, fmt.Errorf("%w: %s", ErrMissingArgument, cmd.Op)
	}
	return cmd, nil
}

// Line formats cmd as a request line including the trailing newline.
func (c Command) Line() string {
	if c.Arg == "" {
		return string(c.Op) + "\n"
	}
	return string(c.Op) + " " + c.Arg + "\n"
}

// EncodeError renders an error fragment as one response line.
func EncodeError(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	return errPrefix + text + "\n"
}

// ErrorText extracts the message when line carries an error fragment. Base64
// payloads never contain a space, so the prefix may also appear mid-line
// after streamed data.
func ErrorText(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	i := strings.Index(line, errPrefix)
	if i < 0 {
		return "", false
	}
	return line[i+len(errPrefix):], true
}
