package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/coder/websocket"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/liqi-mitm/core/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the proxy's environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("liqi-mitm doctor")
	printRow("Version:", Version)
	printRow("OS:", runtime.GOOS+"/"+runtime.GOARCH)
	printRow("Go:", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	if _, err := os.Stat(cfgPath); err != nil {
		printRow("Config:", cfgPath+" (NOT FOUND)")
	} else if _, err := config.Load(cfgPath, nil); err != nil {
		printRow("Config:", cfgPath+" (PARSE FAILED: "+err.Error()+")")
	} else {
		printRow("Config:", cfgPath+" (OK)")
	}

	fmt.Println()
	printRow("Listen addr:", checkBindable(listenAddr))
	printRow("Control addr:", checkBindable(controlAddr))

	fmt.Println()
	if upstreamURL == "" {
		printRow("Upstream:", "(not set — pass --upstream)")
	} else {
		printRow("Upstream:", upstreamURL+" "+checkUpstream(upstreamURL))
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

// printRow prints a label/value pair padded to a fixed label column using
// display width rather than byte count, so a label carrying wide runes
// still lines up.
func printRow(label, value string) {
	fmt.Println("  " + runewidth.FillRight(label, 14) + value)
}

// checkBindable reports whether addr's TCP port is currently free to
// listen on, closing the probe listener immediately either way.
func checkBindable(addr string) string {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return addr + " (IN USE OR UNAVAILABLE: " + err.Error() + ")"
	}
	ln.Close()
	return addr + " (free)"
}

// checkUpstream attempts a short-lived WebSocket dial against url,
// reporting reachability without holding the connection open.
func checkUpstream(url string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return "(UNREACHABLE: " + err.Error() + ")"
	}
	conn.Close(websocket.StatusNormalClosure, "doctor check")
	return "(reachable)"
}
