package protocol

import "errors"

var (
	ErrEmptyLine       = errors.New("protocol: empty command line")
	ErrUnknownCommand  = errors.New("protocol: unknown command")
	ErrMissingArgument = errors.New("protocol: missing argument")
	ErrLineTooLong     = errors.New("protocol: command line too long")
)
