package application

// LogSink receives human-readable progress lines. It never affects control flow.
type LogSink interface {
	Log(line string)
}

// LogFunc adapts a plain function to LogSink.
type LogFunc func(line string)

func (f LogFunc) Log(line string) {
	f(line)
}

type discardSink struct{}

func (discardSink) Log(string) {}
