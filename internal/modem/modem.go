// Package modem drives a GSM modem over an AT-command serial line:
// SMS in text mode, voice calls and unsolicited SMS delivery.
package modem

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"coldwatch/internal/logger"
	"coldwatch/internal/metrics"
	"coldwatch/internal/models"
)

// Modem errors
var (
	ErrClosed         = errors.New("modem is closed")
	ErrTimeout        = errors.New("modem did not answer in time")
	ErrCommandFailed  = errors.New("modem rejected command")
	ErrBadDestination = errors.New("invalid destination number")
	ErrNotSynced      = errors.New("modem did not respond to AT")
)

const (
	ctrlZ  = "\x1a"
	escape = "\x1b"
	prompt = ">"
)

// initSequence configures echo off, verbose errors, SMS text mode and
// direct delivery of incoming SMS to the serial line
var initSequence = []string{
	"ATE0",
	"AT+CMEE=2",
	"AT+CMGF=1",
	"AT+CNMI=2,2,0,0,0",
}

// Options tunes the modem timeouts
type Options struct {
	CommandTimeout time.Duration
	SendTimeout    time.Duration
	SyncAttempts   int
	SyncInterval   time.Duration
	// BodyIdle ends a multi-line SMS body when no further line arrives
	BodyIdle time.Duration
}

func (o *Options) withDefaults() {
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 5 * time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 60 * time.Second
	}
	if o.SyncAttempts <= 0 {
		o.SyncAttempts = 20
	}
	if o.SyncInterval <= 0 {
		o.SyncInterval = 500 * time.Millisecond
	}
	if o.BodyIdle <= 0 {
		o.BodyIdle = 300 * time.Millisecond
	}
}

// Modem is a GSM modem on a serial port. Commands are serialized; a single
// reader goroutine splits the line into responses and unsolicited messages.
type Modem struct {
	port io.ReadWriteCloser
	opts Options

	mu        sync.Mutex // one command in flight
	resp      chan string
	sms       chan string
	prompting atomic.Bool // AT+CMGS is waiting for "> "

	done      chan struct{}
	readErr   error
	closeOnce sync.Once
}

// Open opens the serial device at path. Line settings (baud rate, raw mode)
// are expected to be applied by the system, e.g. a udev rule or stty.
func Open(path string, opts Options) (*Modem, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open modem %s: %w", path, err)
	}
	return New(f, opts), nil
}

// New wraps an already open port and starts reading from it
func New(port io.ReadWriteCloser, opts Options) *Modem {
	opts.withDefaults()
	m := &Modem{
		port: port,
		opts: opts,
		resp: make(chan string, 32),
		sms:  make(chan string, 16),
		done: make(chan struct{}),
	}
	go m.readLoop()
	return m
}

// newSplitter yields CR/LF terminated lines. The bare SMS prompt "> " is a
// token of its own only while prompting reports true; otherwise a leading
// '>' is ordinary text.
func newSplitter(prompting func() bool) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (int, []byte, error) {
		i := 0
		for i < len(data) && (data[i] == '\r' || data[i] == '\n') {
			i++
		}
		if i == len(data) {
			return i, nil, nil
		}
		if data[i] == '>' && prompting() && (i+1 == len(data) || data[i+1] == ' ') {
			return i + 1, data[i : i+1], nil
		}
		if j := bytes.IndexByte(data[i:], '\n'); j >= 0 {
			return i + j + 1, bytes.TrimRight(data[i:i+j], "\r"), nil
		}
		if atEOF {
			return len(data), data[i:], nil
		}
		return i, nil, nil
	}
}

// scan feeds non-empty lines from the port into lines
func (m *Modem) scan(lines chan<- string) {
	defer close(lines)

	sc := bufio.NewScanner(m.port)
	sc.Split(newSplitter(m.prompting.Load))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines <- line
		}
	}
	m.readErr = sc.Err()
}

// readLoop routes lines to command responses or incoming SMS. An SMS body
// is every line after a +CMT: header up to the next header, RING, result
// code, or a quiet gap of BodyIdle.
func (m *Modem) readLoop() {
	defer close(m.done)
	log := logger.WithComponent("modem")

	lines := make(chan string, 16)
	go m.scan(lines)

	var (
		body       []string
		collecting bool
		idle       <-chan time.Time
	)
	flush := func() {
		if len(body) > 0 {
			m.deliver(strings.Join(body, "\n"))
		}
		body, collecting, idle = nil, false, nil
	}

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				flush()
				return
			}
			switch {
			case strings.HasPrefix(line, "+CMT:"):
				flush()
				collecting = true
				idle = time.After(m.opts.BodyIdle)
			case line == "RING":
				flush()
				log.Info().Msg("incoming call ringing")
			case collecting && !m.isResponse(line):
				body = append(body, line)
				idle = time.After(m.opts.BodyIdle)
			default:
				flush()
				select {
				case m.resp <- line:
				default:
					log.Debug().Str("line", line).Msg("unsolicited modem output discarded")
				}
			}
		case <-idle:
			flush()
		}
	}
}

// isResponse reports lines that belong to a command in flight
func (m *Modem) isResponse(line string) bool {
	return isFinal(line) ||
		strings.HasPrefix(line, "+CMGS:") ||
		(line == prompt && m.prompting.Load())
}

func (m *Modem) deliver(body string) {
	select {
	case m.sms <- body:
	default:
		log := logger.WithComponent("modem")
		log.Warn().Msg("incoming sms dropped, listener queue full")
		metrics.InboundMessagesTotal.WithLabelValues(string(models.SourceModem), "dropped").Inc()
	}
}

// drain discards stale output before a new command
func (m *Modem) drain() {
	for {
		select {
		case <-m.resp:
		default:
			return
		}
	}
}

func (m *Modem) write(s string) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	_, err := io.WriteString(m.port, s)
	return err
}

// await collects lines until done reports true for one of them
func (m *Modem) await(ctx context.Context, timeout time.Duration, done func(string) bool) ([]string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var lines []string
	for {
		select {
		case line := <-m.resp:
			lines = append(lines, line)
			if done(line) {
				return lines, nil
			}
		case <-timer.C:
			return lines, ErrTimeout
		case <-ctx.Done():
			return lines, ctx.Err()
		case <-m.done:
			return lines, ErrClosed
		}
	}
}

func isFinal(line string) bool {
	return line == "OK" || isError(line)
}

func isError(line string) bool {
	return line == "ERROR" ||
		line == "NO CARRIER" ||
		strings.HasPrefix(line, "+CME ERROR") ||
		strings.HasPrefix(line, "+CMS ERROR")
}

// verb reduces a command to a low-cardinality metric label
func verb(cmd string) string {
	if strings.HasPrefix(cmd, "ATD") {
		return "ATD"
	}
	if i := strings.IndexAny(cmd, "=?"); i > 0 {
		return cmd[:i]
	}
	return cmd
}

// exchange runs one command and waits for its final result code.
// The caller holds m.mu.
func (m *Modem) exchange(ctx context.Context, cmd string, timeout time.Duration) ([]string, error) {
	m.drain()
	if err := m.write(cmd + "\r\n"); err != nil {
		metrics.ModemCommandsTotal.WithLabelValues(verb(cmd), "failed").Inc()
		return nil, err
	}

	lines, err := m.await(ctx, timeout, isFinal)
	if err == nil && isError(lines[len(lines)-1]) {
		err = fmt.Errorf("%w: %s: %s", ErrCommandFailed, verb(cmd), lines[len(lines)-1])
	}

	status := "ok"
	if err != nil {
		status = "failed"
	}
	metrics.ModemCommandsTotal.WithLabelValues(verb(cmd), status).Inc()
	return lines, err
}

// Command sends cmd and returns the response lines up to and including
// the final result code
func (m *Modem) Command(ctx context.Context, cmd string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exchange(ctx, cmd, m.opts.CommandTimeout)
}

// Init waits for the modem to answer AT, then applies the init sequence
func (m *Modem) Init(ctx context.Context) error {
	log := logger.WithComponent("modem")

	synced := false
	for attempt := 0; attempt < m.opts.SyncAttempts; attempt++ {
		m.mu.Lock()
		_, err := m.exchange(ctx, "AT", m.opts.SyncInterval)
		m.mu.Unlock()
		if err == nil {
			synced = true
			break
		}
		if errors.Is(err, ErrClosed) || ctx.Err() != nil {
			return err
		}
		log.Debug().Int("attempt", attempt+1).Err(err).Msg("modem sync attempt failed")
	}
	if !synced {
		return ErrNotSynced
	}

	for _, cmd := range initSequence {
		if _, err := m.Command(ctx, cmd); err != nil {
			return fmt.Errorf("modem init %s: %w", cmd, err)
		}
	}
	log.Info().Msg("modem initialized")
	return nil
}

// validDestination accepts dialable numbers only
func validDestination(dest string) bool {
	if dest == "" {
		return false
	}
	for i, r := range dest {
		switch {
		case r >= '0' && r <= '9':
		case r == '+' && i == 0:
		default:
			return false
		}
	}
	return true
}

// SendText sends body as an SMS to dest
func (m *Modem) SendText(ctx context.Context, dest, body string) error {
	if !validDestination(dest) {
		return fmt.Errorf("%w: %q", ErrBadDestination, dest)
	}
	body = strings.NewReplacer(ctrlZ, "", escape, "").Replace(body)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.drain()
	m.prompting.Store(true)
	cmd := fmt.Sprintf("AT+CMGS=%q", dest)
	if err := m.write(cmd + "\r\n"); err != nil {
		m.prompting.Store(false)
		return err
	}

	lines, err := m.await(ctx, m.opts.CommandTimeout, func(l string) bool { return l == prompt || isError(l) })
	m.prompting.Store(false)
	if err == nil && lines[len(lines)-1] != prompt {
		err = fmt.Errorf("%w: AT+CMGS: %s", ErrCommandFailed, lines[len(lines)-1])
	}
	if err != nil {
		_ = m.write(escape)
		metrics.ModemCommandsTotal.WithLabelValues("AT+CMGS", "failed").Inc()
		return err
	}

	if err := m.write(body + ctrlZ); err != nil {
		metrics.ModemCommandsTotal.WithLabelValues("AT+CMGS", "failed").Inc()
		return err
	}

	lines, err = m.await(ctx, m.opts.SendTimeout, isFinal)
	if err == nil && isError(lines[len(lines)-1]) {
		err = fmt.Errorf("%w: AT+CMGS: %s", ErrCommandFailed, lines[len(lines)-1])
	}
	if err != nil {
		metrics.ModemCommandsTotal.WithLabelValues("AT+CMGS", "failed").Inc()
		return err
	}

	metrics.ModemCommandsTotal.WithLabelValues("AT+CMGS", "ok").Inc()
	log := logger.WithComponent("modem")
	log.Info().Str("dest", dest).Int("length", len(body)).Msg("sms sent")
	return nil
}

// PlaceCall dials dest as a voice call
func (m *Modem) PlaceCall(ctx context.Context, dest string) error {
	if !validDestination(dest) {
		return fmt.Errorf("%w: %q", ErrBadDestination, dest)
	}
	if _, err := m.Command(ctx, "ATD"+dest+";"); err != nil {
		return err
	}
	log := logger.WithComponent("modem")
	log.Info().Str("dest", dest).Msg("voice call placed")
	return nil
}

// Listen forwards incoming SMS bodies into out until ctx is cancelled
func (m *Modem) Listen(ctx context.Context, out chan<- models.InboundMessage) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.done:
			if m.readErr != nil {
				return m.readErr
			}
			return ErrClosed
		case body := <-m.sms:
			msg := models.NewInboundMessage(models.SourceModem, []byte(body))
			select {
			case out <- msg:
				metrics.InboundMessagesTotal.WithLabelValues(string(models.SourceModem), "queued").Inc()
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Close closes the port and stops the reader
func (m *Modem) Close() error {
	var err error
	m.closeOnce.Do(func() {
		err = m.port.Close()
	})
	return err
}
