package extract

import "fmt"

// ParseError reports content that could not be parsed. The object is still
// indexed, with empty text.
type ParseError struct {
	Family Family
	Key    string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s %q: %v", e.Family, e.Key, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// StreamError reports a failure while reading or decompressing the object
// body. Unlike a ParseError it is surfaced to the caller.
type StreamError struct {
	Key string
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("read %q: %v", e.Key, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
