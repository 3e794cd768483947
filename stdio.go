package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// StdIO serves a Dispatcher over newline-delimited JSON-RPC on an io.Reader/io.Writer pair,
// typically stdin and stdout. It has exactly one implicit session, so responses are written
// straight back instead of going through a SessionStore.
//
// Messages are processed sequentially in the order they are read. A line that cannot be
// parsed is answered with a JSON-RPC error carrying a null id.
type StdIO struct {
	dispatcher *Dispatcher
	reader     io.Reader
	writer     io.Writer
	logger     *slog.Logger

	writeMu sync.Mutex
}

// StdIOOption represents the options for the StdIO.
type StdIOOption func(*StdIO)

type stdIOLine struct {
	line string
	err  error
}

// nullIDError is written for lines that never produced an id. JSONRPCMessage omits an empty
// id, but the protocol asks for an explicit null here.
type nullIDError struct {
	JSONRPC string       `json:"jsonrpc"`
	ID      *struct{}    `json:"id"`
	Error   JSONRPCError `json:"error"`
}

// NewStdIO creates a StdIO that reads requests from reader and writes responses to writer.
func NewStdIO(dispatcher *Dispatcher, reader io.Reader, writer io.Writer, options ...StdIOOption) *StdIO {
	s := &StdIO{
		dispatcher: dispatcher,
		reader:     reader,
		writer:     writer,
		logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// WithStdIOLogger sets the logger for the StdIO transport.
func WithStdIOLogger(logger *slog.Logger) StdIOOption {
	return func(s *StdIO) {
		s.logger = logger.With(
			slog.String("package", "textutils-mcp"),
			slog.String("component", "stdio"),
		)
	}
}

// Serve reads messages until the reader is exhausted or ctx is done. It returns nil on EOF
// and on context cancellation.
func (s *StdIO) Serve(ctx context.Context) error {
	lines := make(chan stdIOLine)

	// Reading happens on its own goroutine so a blocked reader cannot hold up cancellation.
	go s.readLines(ctx, lines)

	for {
		var l stdIOLine
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case l, ok = <-lines:
		}
		if !ok {
			return nil
		}
		if l.err != nil {
			return fmt.Errorf("failed to read message: %w", l.err)
		}

		if err := s.handleLine(ctx, l.line); err != nil {
			return err
		}
	}
}

func (s *StdIO) readLines(ctx context.Context, lines chan<- stdIOLine) {
	defer close(lines)

	// Use bufio.Reader instead of bufio.Scanner to avoid max token size errors.
	reader := bufio.NewReader(s.reader)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			select {
			case lines <- stdIOLine{line: strings.TrimRight(line, "\r\n")}:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			select {
			case lines <- stdIOLine{err: err}:
			case <-ctx.Done():
			}
			return
		}
	}
}

func (s *StdIO) handleLine(ctx context.Context, line string) error {
	if strings.TrimSpace(line) == "" {
		return nil
	}

	msg, err := ReadMessage(strings.NewReader(line))
	if err != nil {
		s.logger.Warn("failed to parse message", slog.String("err", err.Error()))
		code := jsonRPCParseErrorCode
		if errors.Is(err, errInvalidRequest) {
			code = jsonRPCInvalidRequestCode
		}
		return s.write(nullIDError{
			JSONRPC: JSONRPCVersion,
			Error:   JSONRPCError{Code: code, Message: err.Error()},
		})
	}

	res, ok := s.dispatcher.Dispatch(ctx, msg)
	if !ok {
		return nil
	}
	return s.write(res)
}

func (s *StdIO) write(v any) error {
	msgBs, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	// Append newline to maintain message framing protocol
	msgBs = append(msgBs, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.writer.Write(msgBs); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}
