// Package version хранит сведения о сборке бинарника.
// Значения подставляются через -ldflags "-X github.com/vladislavdragonenkov/orderrecon/internal/version.version=...".
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

const unknown = "unknown"

var (
	version = "dev"
	commit  = unknown
	date    = unknown
)

// Build: сведения о сборке.
type Build struct {
	Version   string
	Commit    string
	Date      string
	GoVersion string
}

// Current возвращает сведения о текущем бинарнике. Без ldflags commit и дата берутся
// из VCS-меток, которые go build записывает сам.
func Current() Build {
	b := Build{Version: version, Commit: commit, Date: date, GoVersion: runtime.Version()}
	if b.Commit != unknown && b.Date != unknown {
		return b
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	return b.withVCS(info.Settings)
}

func (b Build) withVCS(settings []debug.BuildSetting) Build {
	for _, s := range settings {
		switch {
		case s.Key == "vcs.revision" && b.Commit == unknown && s.Value != "":
			b.Commit = s.Value
		case s.Key == "vcs.time" && b.Date == unknown && s.Value != "":
			b.Date = s.Value
		}
	}
	return b
}

// GetVersion возвращает версию релиза.
func GetVersion() string { return version }

// Fields: поля для стартовой строки лога.
func (b Build) Fields() log.Fields {
	return log.Fields{
		"version": b.Version,
		"commit":  b.Commit,
		"built":   b.Date,
		"go":      b.GoVersion,
	}
}

func (b Build) String() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s)", b.Version, b.Commit, b.Date, b.GoVersion)
}
