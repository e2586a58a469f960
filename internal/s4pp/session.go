package s4pp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidelog/tidelog/internal/config"
	"github.com/tidelog/tidelog/internal/hmac256"
	"github.com/tidelog/tidelog/internal/sample"
)

// State is a step of the client-side S4PP state machine.
type State int

const (
	StateInit State = iota
	StateHello
	StateAuthed
	StateBuffering
	StateCommitting
	StateDone
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateHello:
		return "HELLO"
	case StateAuthed:
		return "AUTHED"
	case StateBuffering:
		return "BUFFERING"
	case StateCommitting:
		return "COMMITTING"
	case StateDone:
		return "DONE"
	case StateErrored:
		return "ERRORED"
	default:
		return "UNKNOWN"
	}
}

// CompletionFunc is invoked exactly once when the upload finishes, either
// with err == nil after a clean DONE or with the error that aborted it;
// acked is always the number of samples whose sequence was OK'd.
type CompletionFunc func(err error, acked int)

// pendingItem is an iterator item whose dictionary entry has just been
// emitted; its data line is emitted on the following loop turn (mirrors
// s4pp.c's work_ref "did dict last, now do data").
type pendingItem struct {
	item Item
	idx  int
}

// Transport is the subset of transport.Transport the session needs; kept
// local so the session does not depend on the transport package and is
// trivially testable against transport.FakeTransport.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, p []byte) error
	SetRecvHandler(func([]byte))
	SetErrorHandler(func(error))
	Disconnect() error
}

// Session drives one upload: connect, hello, auth, then one or more
// buffered-and-committed sequences until the iterator is exhausted.
type Session struct {
	Cfg        *config.Config
	Transport  Transport
	Iter       SampleIterator
	OnComplete CompletionFunc

	// PayloadLimit caps bytes buffered before a sequence must flush
	// (default 1400).
	PayloadLimit int
	// MaxInFlight bounds concurrent outstanding sends; kept as
	// a configured ceiling for API fidelity — this session's Transport
	// contract is a blocking Send, so at most one send is ever actually
	// outstanding regardless of this value.
	MaxInFlight int

	state State
	dict  *Dictionary
	seq   int
	mac   *hmac256.Streaming

	lines chan string
	errCh chan error
	carry []byte
	token []byte
}

// NewSession builds a Session ready to Run.
func NewSession(cfg *config.Config, tr Transport, iter SampleIterator, onComplete CompletionFunc) *Session {
	return &Session{
		Cfg:          cfg,
		Transport:    tr,
		Iter:         iter,
		OnComplete:   onComplete,
		PayloadLimit: DefaultPayloadLimit,
		MaxInFlight:  2,
	}
}

// State returns the session's current state.
func (s *Session) State() State { return s.state }

func (s *Session) onRecv(p []byte) {
	s.carry = append(s.carry, p...)
	for {
		i := indexByte(s.carry, '\n')
		if i < 0 {
			return
		}
		line := string(s.carry[:i+1])
		s.carry = s.carry[i+1:]
		select {
		case s.lines <- line:
		default:
			// Backpressure: the processing loop always drains before
			// issuing the next send, so this channel cannot fill under
			// normal operation; drop rather than block the recv callback.
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

func (s *Session) nextLine(ctx context.Context) (string, error) {
	select {
	case line := <-s.lines:
		return line, nil
	case err := <-s.errCh:
		return "", &TransportError{Err: err}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Run executes the full upload to completion, calling OnComplete exactly
// once before returning. The returned error is the same one passed to
// OnComplete.
func (s *Session) Run(ctx context.Context) error {
	acked := 0
	err := s.run(ctx, &acked)
	if err != nil {
		s.state = StateErrored
	} else {
		s.state = StateDone
	}
	if s.OnComplete != nil {
		s.OnComplete(err, acked)
	}
	return err
}

func (s *Session) run(ctx context.Context, acked *int) error {
	if s.Cfg == nil || s.Cfg.Server == "" {
		return &ConfigError{Field: "server"}
	}
	if s.Cfg.User == "" {
		return &ConfigError{Field: "user"}
	}
	if len(s.Cfg.Key) == 0 {
		return &ConfigError{Field: "key"}
	}

	s.dict = NewDictionary(16)
	s.lines = make(chan string, 64)
	s.errCh = make(chan error, 1)
	s.mac = hmac256.New(s.Cfg.Key)
	s.state = StateInit

	s.Transport.SetRecvHandler(s.onRecv)
	s.Transport.SetErrorHandler(func(err error) {
		select {
		case s.errCh <- err:
		default:
		}
	})

	if err := s.Transport.Connect(ctx); err != nil {
		return &TransportError{Err: err}
	}
	defer s.Transport.Disconnect()

	maxSamples, err := s.handshake(ctx)
	if err != nil {
		return err
	}
	if s.Cfg.BatchSize > 0 && s.Cfg.BatchSize < maxSamples {
		maxSamples = s.Cfg.BatchSize
	}

	for {
		seqAcked, done, err := s.runSequence(ctx, maxSamples)
		*acked += seqAcked
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// handshake consumes the hello and TOK lines and sends AUTH, leaving the
// session in StateAuthed with max_samples from the hello line.
func (s *Session) handshake(ctx context.Context) (maxSamples int, err error) {
	hello, err := s.nextLine(ctx)
	if err != nil {
		return 0, err
	}
	hello = strings.TrimSuffix(hello, "\n")
	if !strings.HasPrefix(hello, "S4PP/") {
		return 0, &ProtocolError{Reason: "unexpected response: " + hello}
	}
	fields := strings.Fields(hello)
	if len(fields) < 3 {
		return 0, &ProtocolError{Reason: "bad hello"}
	}
	algos := strings.Split(fields[1], ",")
	if !containsString(algos, "SHA256") {
		return 0, &ProtocolError{Reason: "server does not support SHA256"}
	}
	maxSamples, convErr := strconv.Atoi(fields[2])
	if convErr != nil || maxSamples == 0 {
		return 0, &ProtocolError{Reason: "bad hello"}
	}
	s.state = StateHello

	tokLine, err := s.nextLine(ctx)
	if err != nil {
		return 0, err
	}
	tokLine = strings.TrimSuffix(tokLine, "\n")
	if !strings.HasPrefix(tokLine, "TOK:") {
		return 0, &ProtocolError{Reason: "bad tok"}
	}
	token := []byte(strings.TrimPrefix(tokLine, "TOK:"))

	authDigest := hmac.New(sha256.New, s.Cfg.Key)
	authDigest.Write([]byte(s.Cfg.User))
	authDigest.Write(token)
	authLine := fmt.Sprintf("AUTH:SHA256,%s,%s\n", s.Cfg.User, hex.EncodeToString(authDigest.Sum(nil)))
	if err := s.Transport.Send(ctx, []byte(authLine)); err != nil {
		return 0, &TransportError{Err: err}
	}
	s.state = StateAuthed
	s.token = token
	s.mac.StartSequence(token)
	return maxSamples, nil
}

func containsString(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

// runSequence buffers and commits exactly one sequence, flushing to the
// transport in possibly several chunks as the payload hits its size
// ceiling, and returns the number of samples the server acknowledged
// and whether the iterator is now exhausted.
func (s *Session) runSequence(ctx context.Context, maxSamples int) (acked int, done bool, err error) {
	payload := NewPayload(s.mac, s.PayloadLimit)
	if err := payload.WriteLine(fmt.Sprintf("SEQ:%d,0,1,0\n", s.seq)); err != nil {
		return acked, false, err
	}
	s.seq++
	s.state = StateBuffering

	var lastTime int64
	var pending *pendingItem
	endOfData := false

	for {
		sig := false
		for !payload.Full() {
			switch {
			case payload.SampleCount() >= maxSamples:
				sig = true
			case pending != nil:
				lastTime, err = s.emitData(payload, pending.item, pending.idx, lastTime)
				if err != nil {
					return acked, false, err
				}
				pending = nil
				continue
			default:
				item, ok, iterErr := s.Iter.Next(ctx)
				if iterErr != nil {
					if flashErr, ok := iterErr.(*FlashError); ok {
						return acked, false, flashErr
					}
					return acked, false, &IteratorError{Err: iterErr}
				}
				if !ok {
					sig = true
					endOfData = true
					break
				}
				idx, known := s.dict.Lookup(item.Name)
				if !known {
					idx = s.dict.Intern(item.Name)
					if err := payload.WriteLine(sample.FormatDict(idx, item.Unit, item.UnitDiv, item.Name)); err != nil {
						return acked, false, err
					}
					pending = &pendingItem{item: item, idx: idx}
					continue
				}
				lastTime, err = s.emitData(payload, item, idx, lastTime)
				if err != nil {
					return acked, false, err
				}
				continue
			}
			break
		}

		if sig {
			s.state = StateCommitting
		}

		var out []byte
		if s.state == StateCommitting {
			out = payload.Finalize()
		} else {
			out = payload.Bytes()
		}
		if len(out) > 0 {
			if err := s.Transport.Send(ctx, out); err != nil {
				return acked, false, &TransportError{Err: err}
			}
		}
		if s.state == StateCommitting {
			break
		}
		payload.ResetBuf()
	}

	return s.awaitCommitReply(ctx, payload.SampleCount(), endOfData)
}

func (s *Session) emitData(payload *Payload, item Item, idx int, lastTime int64) (int64, error) {
	deltaT := int32(item.Time - lastTime)
	if err := payload.WriteLine(sample.FormatLine(idx, deltaT, item.Value, item.Decimals)); err != nil {
		return lastTime, err
	}
	payload.AddSample()
	return item.Time, nil
}

func (s *Session) awaitCommitReply(ctx context.Context, nSent int, endOfData bool) (int, bool, error) {
	line, err := s.nextLine(ctx)
	if err != nil {
		return 0, false, err
	}
	line = strings.TrimSuffix(line, "\n")
	switch {
	case strings.HasPrefix(line, "OK:"):
		if endOfData {
			return nSent, true, nil
		}
		s.state = StateAuthed
		s.mac.StartSequence(s.token)
		return nSent, false, nil
	case strings.HasPrefix(line, "NOK:"):
		return 0, false, &CommitRejection{Seq: s.seq - 1}
	case strings.HasPrefix(line, "REJ:"):
		return 0, false, &CommitRejection{Seq: s.seq - 1, Reason: strings.TrimPrefix(line, "REJ:")}
	case strings.HasPrefix(line, "NTFY:"):
		// Notifications may arrive at any point post-auth; they do not
		// affect the commit outcome, so wait for the real reply next.
		return s.awaitCommitReply(ctx, nSent, endOfData)
	default:
		return 0, false, &ProtocolError{Reason: "unexpected response: " + line}
	}
}
