package logger

// OutputCategory selects WHAT is logged at a verbosity level, independent of
// severity. Hot paths check ShouldOutput before building expensive fields.
type OutputCategory int

const (
	OutputResults     OutputCategory = iota // command output, always shown
	OutputConnections                       // client connect/disconnect (-v)
	OutputMutations                         // committed record mutations (-v)
	OutputRejections                        // rejected requests with codes (-vv)
	OutputPresence                          // presence changes (-vv)
	OutputEvents                            // every broadcast event (-vvv)
	OutputMessageBody                       // raw websocket payloads (-vvvv)
)

var categoryLevels = map[OutputCategory]int{
	OutputResults:     VerbosityUser,
	OutputConnections: VerbosityInfo,
	OutputMutations:   VerbosityInfo,
	OutputRejections:  VerbosityDebug,
	OutputPresence:    VerbosityDebug,
	OutputEvents:      VerbosityTrace,
	OutputMessageBody: VerbosityAll,
}

// ShouldOutput reports whether category is enabled at verbosity.
func ShouldOutput(verbosity int, category OutputCategory) bool {
	minLevel, ok := categoryLevels[category]
	if !ok {
		return false
	}
	return verbosity >= minLevel
}
