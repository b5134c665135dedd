// Package sym defines the glyphs reqsync prints in CLI output and logs.
// They are stable across commands so output stays scannable.
package sym

// Command glyphs. Each top-level CLI command has one.
const (
	Req    = "▤" // requisitions
	Work   = "⚑" // working / assignment
	Watch  = "◉" // live view
	AM     = "≡" // configuration
	DB     = "⊔" // database/storage layer
	Server = "⋈" // coordination server
)

// Event glyphs used when rendering the live event stream.
const (
	Created  = "+"
	Patched  = "~"
	Deleted  = "−"
	Presence = "✎"
)

// CommandToSymbol maps CLI commands to their glyphs. Each glyph is also
// accepted as an alias of its command.
var CommandToSymbol = map[string]string{
	"req":    Req,
	"watch":  Watch,
	"am":     AM,
	"db":     DB,
	"server": Server,
}

// ForEvent returns the glyph for a broadcast event type name, or "?".
func ForEvent(eventType string) string {
	switch eventType {
	case "record_created":
		return Created
	case "record_patched":
		return Patched
	case "record_deleted":
		return Deleted
	case "presence_changed":
		return Presence
	default:
		return "?"
	}
}
