package proxy

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/samber/ro"

	"github.com/omarluq/cc-gateway/internal/providers"
)

// SetSSEHeaders sets the headers a streamed response needs to pass through
// nginx and CDNs unbuffered.
func SetSSEHeaders(h http.Header) {
	h.Set("Content-Type", providers.ContentTypeSSE)
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Connection", "keep-alive")
}

// SSEEvent is one parsed Server-Sent Event.
type SSEEvent struct {
	Event string
	ID    string
	Data  []byte
	Retry int
}

// StreamSSE parses body into an Observable of events. The stream completes at
// EOF and errors on any other read error; a trailing event without a blank
// line is still emitted.
func StreamSSE(body io.Reader) ro.Observable[SSEEvent] {
	return ro.NewObservable(func(observer ro.Observer[SSEEvent]) ro.Teardown {
		var p sseParser
		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadBytes('\n')
			p.line(line, observer)
			if err != nil {
				p.emit(observer)
				if errors.Is(err, io.EOF) {
					observer.Complete()
				} else {
					observer.Error(err)
				}
				return nil
			}
		}
	})
}

// UsageEvents keeps only the events that carry token usage.
func UsageEvents() func(ro.Observable[SSEEvent]) ro.Observable[SSEEvent] {
	return ro.Filter(func(e SSEEvent) bool {
		return e.Event == providers.EventMessageStart || e.Event == providers.EventMessageDelta
	})
}

type sseParser struct {
	data  [][]byte
	event SSEEvent
}

func (p *sseParser) line(raw []byte, observer ro.Observer[SSEEvent]) {
	if len(raw) == 0 {
		return
	}
	raw = bytes.TrimSuffix(bytes.TrimSuffix(raw, []byte("\n")), []byte("\r"))
	if len(raw) == 0 {
		p.emit(observer)
		return
	}
	if raw[0] == ':' {
		return
	}

	field, value, _ := bytes.Cut(raw, []byte(":"))
	value = bytes.TrimPrefix(value, []byte(" "))
	switch string(field) {
	case "event":
		p.event.Event = string(value)
	case "data":
		p.data = append(p.data, bytes.Clone(value))
	case "id":
		p.event.ID = string(value)
	case "retry":
		if n, err := strconv.Atoi(string(value)); err == nil {
			p.event.Retry = n
		}
	}
}

func (p *sseParser) emit(observer ro.Observer[SSEEvent]) {
	if len(p.data) == 0 {
		p.event = SSEEvent{}
		return
	}
	p.event.Data = bytes.Join(p.data, []byte("\n"))
	observer.Next(p.event)
	p.event = SSEEvent{}
	p.data = nil
}

// UsageFunc receives the usage folded out of a response once its body is
// closed. ok is false when the response carried no usage.
type UsageFunc func(usage providers.Usage, ok bool)

// sseUsageTap passes a streamed body through unchanged while a background
// pipeline parses a copy of it and folds the usage events.
type sseUsageTap struct {
	body io.ReadCloser
	tee  io.Reader
	pw   *io.PipeWriter
	done chan struct{}
	once sync.Once
}

func newSSEUsageTap(body io.ReadCloser, onUsage UsageFunc) *sseUsageTap {
	pr, pw := io.Pipe()
	t := &sseUsageTap{
		body: body,
		tee:  io.TeeReader(body, pw),
		pw:   pw,
		done: make(chan struct{}),
	}

	var (
		folded   providers.StreamUsage
		finished sync.Once
	)
	finish := func() {
		finished.Do(func() {
			// Unblocks the tee if the pipeline stopped before the writer closed.
			_ = pr.Close()
			onUsage(folded.Usage())
			close(t.done)
		})
	}

	go ro.Pipe1(StreamSSE(pr), UsageEvents()).Subscribe(ro.NewObserver(
		func(e SSEEvent) { folded.Observe(e.Event, e.Data) },
		func(error) { finish() },
		finish,
	))
	return t
}

func (t *sseUsageTap) Read(p []byte) (int, error) {
	return t.tee.Read(p)
}

// Close closes the upstream body and waits for the usage pipeline to drain.
func (t *sseUsageTap) Close() error {
	var err error
	t.once.Do(func() {
		err = t.body.Close()
		_ = t.pw.Close()
		<-t.done
	})
	return err
}

// maxCapturedBody bounds how much of a JSON response is kept for usage parsing.
const maxCapturedBody = 8 << 20

// jsonUsageTap copies a JSON body as it is read and parses usage from the
// copy on Close.
type jsonUsageTap struct {
	body     io.ReadCloser
	onUsage  UsageFunc
	buf      bytes.Buffer
	once     sync.Once
	overflow bool
}

func newJSONUsageTap(body io.ReadCloser, onUsage UsageFunc) *jsonUsageTap {
	return &jsonUsageTap{body: body, onUsage: onUsage}
}

func (t *jsonUsageTap) Read(p []byte) (int, error) {
	n, err := t.body.Read(p)
	if n > 0 && !t.overflow {
		if t.buf.Len()+n > maxCapturedBody {
			t.overflow = true
			t.buf.Reset()
		} else {
			t.buf.Write(p[:n])
		}
	}
	return n, err
}

func (t *jsonUsageTap) Close() error {
	err := t.body.Close()
	t.once.Do(func() {
		if t.overflow {
			t.onUsage(providers.Usage{}, false)
			return
		}
		t.onUsage(providers.ParseUsage(t.buf.Bytes()))
	})
	return err
}
