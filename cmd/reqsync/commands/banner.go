package commands

import (
	"fmt"

	"github.com/teranos/reqsync/logger"
	"github.com/teranos/reqsync/sym"
	"github.com/teranos/reqsync/version"
)

// printStartupBanner prints the user-friendly startup message
func printStartupBanner(verbosity int, addr, dbDesc string, records int) {
	cyan := "\033[36m"
	green := "\033[32m"
	yellow := "\033[33m"
	blue := "\033[34m"
	bold := "\033[1m"
	reset := "\033[0m"

	versionInfo := version.Get()

	fmt.Printf("\n%s%s", cyan, bold)
	fmt.Printf("   ╔═══════════════════════════════════════════╗\n")
	fmt.Printf("   ║                                           ║\n")
	fmt.Printf("   ║   %s  reqsync                             ║\n", sym.Server)
	fmt.Printf("   ║                                           ║\n")
	fmt.Printf("   ║   %s Requisitions  %s Working  %s Editing     ║\n", sym.Req, sym.Work, sym.Presence)
	fmt.Printf("   ║                                           ║\n")
	fmt.Printf("   ╚═══════════════════════════════════════════╝%s\n\n", reset)

	fmt.Printf("%s%s┌─ reqsync ───────────────────────────────────┐%s\n", green, bold, reset)
	fmt.Printf("%s│%s Version:   %s (commit %s)\n", green, reset, versionInfo.Version, versionInfo.Short())
	fmt.Printf("%s│%s Built:     %s\n", green, reset, versionInfo.BuildTime)
	fmt.Printf("%s│%s Verbosity: %s\n", green, reset, logger.LevelName(verbosity))
	fmt.Printf("%s│%s Database:  %s (%d requisitions)\n", green, reset, dbDesc, records)
	fmt.Printf("%s│%s Listening: http://%s  (websocket /ws)\n", green, reset, addr)
	fmt.Printf("%s└─────────────────────────────────────────────┘%s\n", green, reset)

	fmt.Printf("\n%s%s%s Run `reqsync watch` in another terminal to follow changes%s\n", yellow, bold, sym.Watch, reset)
	fmt.Printf("%sPress Ctrl+C to stop%s\n\n", blue, reset)
}
