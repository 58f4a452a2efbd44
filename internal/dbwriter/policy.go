package dbwriter

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/muurk/logrelay/internal/entry"
)

// Policy decides which entries are durably stored. Rejected entries are still
// written to the text logs by the ingest path.
type Policy interface {
	Persist(e entry.Entry) bool
}

// MinLevel persists entries at or above a severity.
type MinLevel entry.Level

func (m MinLevel) Persist(e entry.Entry) bool {
	return e.Level >= entry.Level(m)
}

func (m MinLevel) String() string {
	return "level >= " + entry.Level(m).String()
}

// DefaultPolicy persists WARNING and above.
var DefaultPolicy Policy = MinLevel(entry.LevelWarning)

// All persists everything.
type All struct{}

func (All) Persist(entry.Entry) bool { return true }

func (All) String() string { return "all" }

// policyEnv is what a rule expression can see. Level names are bound to their
// numeric severities so rules can compare them directly.
type policyEnv struct {
	Level     int    `expr:"level"`
	LevelName string `expr:"level_name"`
	Message   string `expr:"message"`
	IP        string `expr:"ip"`
	Port      int    `expr:"port"`

	TRACE   int `expr:"TRACE"`
	DEBUG   int `expr:"DEBUG"`
	INFO    int `expr:"INFO"`
	WARNING int `expr:"WARNING"`
	ERROR   int `expr:"ERROR"`
	FATAL   int `expr:"FATAL"`
}

func newPolicyEnv(e entry.Entry) policyEnv {
	return policyEnv{
		Level:     int(e.Level),
		LevelName: e.Level.String(),
		Message:   e.Message,
		IP:        e.SourceIP,
		Port:      e.SourcePort,
		TRACE:     int(entry.LevelTrace),
		DEBUG:     int(entry.LevelDebug),
		INFO:      int(entry.LevelInfo),
		WARNING:   int(entry.LevelWarning),
		ERROR:     int(entry.LevelError),
		FATAL:     int(entry.LevelFatal),
	}
}

// Rule is a Policy compiled from an expression such as
//
//	level >= WARNING || message contains "panic"
type Rule struct {
	source  string
	program *vm.Program
}

// CompileRule compiles src. The expression must evaluate to a bool.
func CompileRule(src string) (*Rule, error) {
	program, err := expr.Compile(src, expr.Env(policyEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid persist rule %q: %w", src, err)
	}
	return &Rule{source: src, program: program}, nil
}

// Persist evaluates the rule. Entries whose evaluation fails are persisted.
func (r *Rule) Persist(e entry.Entry) bool {
	out, err := expr.Run(r.program, newPolicyEnv(e))
	if err != nil {
		return true
	}
	keep, _ := out.(bool)
	return keep
}

func (r *Rule) String() string {
	return r.source
}

// ParsePolicy builds a policy from configuration: a rule expression when rule
// is set, otherwise a minimum level.
func ParsePolicy(rule string, minLevel string) (Policy, error) {
	if rule != "" {
		return CompileRule(rule)
	}
	if minLevel == "" {
		return DefaultPolicy, nil
	}
	l, err := entry.ParseLevel(minLevel)
	if err != nil {
		return nil, err
	}
	return MinLevel(l), nil
}
