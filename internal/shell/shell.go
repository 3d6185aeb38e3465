// Package shell implements the line-oriented command interpreter over a
// B+ tree store: GET, PUT, DEL, STATS and QUIT.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/sushant-115/gojokv/core/indexing/btree"
	"github.com/sushant-115/gojokv/core/storage_engine/snapshot"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const (
	NotFound = "NOT FOUND"
	Prompt   = "gojokv> "
)

// Help lists the commands. It is printed after an unknown command.
const Help = `Commands:
  GET <key>          -> Prints value for key or 'NOT FOUND'
  PUT <key> <value>  -> Inserts or updates key-value pair
  DEL <key>          -> Deletes key (if exists)
  STATS              -> Prints tree parameters
  BACKUP <path>      -> Copies the store file to path
  QUIT               -> Exit and flush data`

// Store is the part of *btree.BTree the shell drives.
type Store interface {
	Get(key uint64) ([]byte, error)
	Put(key uint64, value []byte) (btree.PutResult, error)
	Delete(key uint64) (btree.DeleteResult, error)
	Stats() btree.Stats
	Backup(ctx context.Context, dstPath string, opts btree.BackupOptions) (snapshot.Result, error)
}

// LineReader yields one input line per call and io.EOF at the end.
// *readline.Instance satisfies it.
type LineReader interface {
	Readline() (string, error)
}

// Shell executes commands against a Store and writes results to out.
type Shell struct {
	store      Store
	out        io.Writer
	logger     *zap.Logger
	tracer     trace.Tracer
	backupOpts btree.BackupOptions
}

// Option configures a Shell.
type Option func(*Shell)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Shell) { s.logger = logger }
}

// WithTracer wraps every command in a span from tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Shell) { s.tracer = tracer }
}

// WithBackupOptions sets the throughput cap and priority of BACKUP copies.
func WithBackupOptions(opts btree.BackupOptions) Option {
	return func(s *Shell) { s.backupOpts = opts }
}

func New(store Store, out io.Writer, opts ...Option) *Shell {
	s := &Shell{
		store:  store,
		out:    out,
		logger: zap.NewNop(),
		tracer: nooptrace.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes every line of r until EOF, a QUIT command or ctx is done.
func (s *Shell) Run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if !s.Execute(ctx, scanner.Text()) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading commands: %w", err)
	}
	return nil
}

// RunInteractive reads lines from a prompt until EOF, QUIT or an interrupt
// on an empty line.
func (s *Shell) RunInteractive(ctx context.Context, rl LineReader) error {
	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if len(line) == 0 {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return fmt.Errorf("reading prompt: %w", err)
		}
		if ctx.Err() != nil || !s.Execute(ctx, line) {
			return nil
		}
	}
}

// Execute runs one command line. It returns false when the session should end.
func (s *Shell) Execute(ctx context.Context, line string) bool {
	verb, rest := splitWord(line)
	if verb == "" {
		return true
	}
	verb = strings.ToUpper(verb)

	switch verb {
	case "QUIT", "EXIT":
		return false
	case "STATS":
		s.writeLine(s.store.Stats().String())
		return true
	case "BACKUP":
		s.backup(ctx, strings.TrimSpace(rest))
		return true
	case "GET", "PUT", "DEL":
	default:
		s.writeLine("Unknown command: " + verb)
		s.writeLine(Help)
		return true
	}

	_, span := s.tracer.Start(ctx, "shell."+strings.ToLower(verb))
	defer span.End()

	keyText, rest := splitWord(rest)
	key, err := strconv.ParseUint(keyText, 10, 64)
	if err != nil {
		s.writeLine(usage(verb))
		span.SetStatus(codes.Error, "malformed command")
		return true
	}
	span.SetAttributes(keyAttribute(key))

	switch verb {
	case "GET":
		s.get(span, key)
	case "PUT":
		value := strings.TrimRight(strings.TrimLeft(rest, " \t"), "\r\n")
		if value == "" {
			s.writeLine(usage(verb))
			span.SetStatus(codes.Error, "malformed command")
			return true
		}
		s.put(span, key, value)
	case "DEL":
		s.del(span, key)
	}
	return true
}

func (s *Shell) get(span trace.Span, key uint64) {
	value, err := s.store.Get(key)
	switch {
	case errors.Is(err, btree.ErrKeyNotFound):
		s.writeLine(NotFound)
	case err != nil:
		s.fail(span, "GET", err)
	default:
		s.writeLine(string(value))
	}
}

func (s *Shell) put(span trace.Span, key uint64, value string) {
	res, err := s.store.Put(key, []byte(value))
	if err != nil {
		s.fail(span, "PUT", err)
		return
	}
	span.SetAttributes(attribute.String("gojokv.result", res.String()))
	s.writeLine(res.String())
}

func (s *Shell) del(span trace.Span, key uint64) {
	res, err := s.store.Delete(key)
	switch {
	case errors.Is(err, btree.ErrKeyNotFound):
		s.writeLine(NotFound)
	case err != nil:
		s.fail(span, "DEL", err)
	default:
		span.SetAttributes(attribute.String("gojokv.result", res.String()))
		s.writeLine(res.String())
	}
}

func (s *Shell) backup(ctx context.Context, path string) {
	ctx, span := s.tracer.Start(ctx, "shell.backup")
	defer span.End()
	if path == "" {
		s.writeLine("Invalid BACKUP command format. Use: BACKUP <path>")
		span.SetStatus(codes.Error, "malformed command")
		return
	}
	res, err := s.store.Backup(ctx, path, s.backupOpts)
	if err != nil {
		s.fail(span, "BACKUP", err)
		return
	}
	span.SetAttributes(attribute.Int64("gojokv.backup.bytes", res.Bytes))
	s.writeLine(fmt.Sprintf("OK (Backup written: %s, sha256 %x)", res.Path, res.SHA256))
}

func (s *Shell) fail(span trace.Span, verb string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.Warn("Command failed", zap.String("command", verb), zap.Error(err))
	s.writeLine("ERROR: " + err.Error())
}

func (s *Shell) writeLine(text string) {
	fmt.Fprintln(s.out, strings.TrimRight(text, "\n"))
}

// keyAttribute renders key in decimal; an Int64 attribute would wrap keys at
// and above 1<<63.
func keyAttribute(key uint64) attribute.KeyValue {
	return attribute.String("gojokv.key", strconv.FormatUint(key, 10))
}

func usage(verb string) string {
	switch verb {
	case "PUT":
		return "Invalid PUT command format. Use: PUT <key> <value>"
	default:
		return fmt.Sprintf("Invalid %s command format. Use: %s <key>", verb, verb)
	}
}

// splitWord returns the first whitespace-delimited word of s and the text
// after it.
func splitWord(s string) (string, string) {
	s = strings.TrimLeft(s, " \t\r")
	if i := strings.IndexAny(s, " \t\r"); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}
