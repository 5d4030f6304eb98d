// Package sym defines canonical symbols for repost subsystems.
// These symbols are stable across logs, CLI output and the HTTP API.
package sym

// Subsystem symbols.
const (
	Pulse      = "꩜" // scheduler dispatch and recurring runs
	PulseOpen  = "✿" // scheduler startup and trigger recovery
	PulseClose = "❀" // graceful shutdown, waiting on in-flight runs
	DB         = "⊔" // database/storage layer
	AM         = "≡" // configuration
	Captcha    = "⌬" // CAPTCHA resolution
	Post       = "⟶" // posting workflow (browser session)
)

// entry binds a glyph to the subsystem name used in structured logs.
type entry struct {
	glyph     string
	subsystem string
}

var registry = []entry{
	{Pulse, "scheduler"},
	{PulseOpen, "scheduler.start"},
	{PulseClose, "scheduler.stop"},
	{DB, "db"},
	{AM, "config"},
	{Captcha, "captcha"},
	{Post, "posting"},
}

var glyphToSubsystem map[string]string

func init() {
	glyphToSubsystem = make(map[string]string, len(registry))
	for _, e := range registry {
		glyphToSubsystem[e.glyph] = e.subsystem
	}
}

// Subsystem returns the subsystem name for a glyph, or "" when unknown.
func Subsystem(glyph string) string {
	return glyphToSubsystem[glyph]
}

// All returns every registered glyph in registry order.
func All() []string {
	out := make([]string, 0, len(registry))
	for _, e := range registry {
		out = append(out, e.glyph)
	}
	return out
}
