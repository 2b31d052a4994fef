package research

import "log"

// LoggerSink writes progress events to a standard logger. Used by the
// one-shot CLI.
type LoggerSink struct {
	Logger *log.Logger
}

func (s LoggerSink) Emit(ev Event) {
	if s.Logger == nil {
		return
	}
	s.Logger.Printf("[%s] %s", ev.Category, ev.Message)
}

// ChannelSink forwards events to a buffered channel for streaming
// consumers. Emit drops events when the buffer is full so a slow reader
// never stalls the crawl.
type ChannelSink struct {
	C chan Event
}

func NewChannelSink(buffer int) ChannelSink {
	if buffer <= 0 {
		buffer = 256
	}
	return ChannelSink{C: make(chan Event, buffer)}
}

func (s ChannelSink) Emit(ev Event) {
	select {
	case s.C <- ev:
	default:
	}
}

// Close signals consumers that no further events will arrive.
func (s ChannelSink) Close() { close(s.C) }

// MultiSink fans one event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(Event) {}
