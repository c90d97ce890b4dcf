package concur

import "github.com/joeycumines/logiface"

// LogifaceLogger adapts a github.com/joeycumines/logiface logger to this
// package's narrow Logger interface, the concrete instance the Options.Logger
// doc comment promises: every structured event concur emits (fork_panic,
// scope_cancel, scope_failed) becomes one Debug-level logiface event, its
// key/value pairs attached via Builder.Any, mirroring how the teacher
// monorepo's eventloop package wires its own diagnostic events through a
// logiface.Logger[*logiface.Event] rather than a bespoke logging facade.
func LogifaceLogger[E logiface.Event](l *logiface.Logger[E]) Logger {
	return logifaceAdapter[E]{l: l}
}

type logifaceAdapter[E logiface.Event] struct {
	l *logiface.Logger[E]
}

func (a logifaceAdapter[E]) LogConcur(event string, kv ...any) {
	b := a.l.Debug().Str("event", event)
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		if key == "" {
			key = "field"
		}
		b = b.Any(key, kv[i+1])
	}
	b.Log(event)
}
