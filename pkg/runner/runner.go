package runner

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/dimiro1/banner"
)

type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

// Hooks run on the runner goroutine. OnStart returning an error aborts Run
// before the runner reports running.
type Hooks struct {
	OnStart func() error
	OnStop  func()
}

type Drainer interface {
	Drain(ctx context.Context) error
}

// DrainerFunc adapts a function to Drainer.
type DrainerFunc func(ctx context.Context) error

func (f DrainerFunc) Drain(ctx context.Context) error { return f(ctx) }

const (
	Title         = "DINELINE"
	EngineVersion = "dev"
)

// BannerOutput receives the startup banner. Tests point it at io.Discard.
var BannerOutput io.Writer = os.Stdout

func PrintBanner() {
	tpl := "{{ .Title \"" + Title + "\" \"\" 0 }}\nVersion: " + EngineVersion + "\nStarted: {{ .Now \"2006-01-02 15:04:05\" }}\n"
	banner.Init(BannerOutput, true, false, bytes.NewBufferString(tpl))
}
