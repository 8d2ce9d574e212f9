package observability

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

var startTime = time.Now()

const (
	colorReset    = "\033[0m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
)

var radarFrames = []string{"◜", "◝", "◞", "◟"}
var radarIdx = 0

// termMu synchronizes ALL terminal output so that the cursor
// save/restore in PrintLiveStatus can never be interrupted by a log write.
var termMu sync.Mutex

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ------------------------------------------------------------
// TermWriter – a mutex-guarded io.Writer for log output.
// ------------------------------------------------------------

type termWriter struct {
	dst io.Writer
}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return tw.dst.Write(p)
}

// NewTermWriter returns an io.Writer suitable for log.SetOutput().
// It serialises writes with PrintLiveStatus via termMu.
func NewTermWriter() io.Writer {
	return termWriter{dst: os.Stderr}
}

// ------------------------------------------------------------
// Banner
// ------------------------------------------------------------

func PrintBanner(w io.Writer) {
	banner := `
  ____  __  ____________  __  ____  ______   ____  ______
 / __ \/ / / / ____/ __ \ \/ / / __ \/  _/ /  / __ \/_  __/
/ / / / / / / __/ / /_/ /\  / / /_/ // // /  / / / / / /
/ /_/ / /_/ / /___/ _, _/ / / / ____// // /__/ /_/ / / /
\___\_\____/_____/_/ |_| /_/ /_/   /___/_____|____/ /_/

        >> NATURAL LANGUAGE -> SQL -> INSIGHT <<
`

	width := termWidth()
	for _, l := range strings.Split(banner, "\n") {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Fprintf(w, "%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan+l, colorReset)
	}
}

// ------------------------------------------------------------
// Live Status
// ------------------------------------------------------------

// StatusLine renders the run counters, heartbeat health and memory use.
func StatusLine() string {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	active, completed, failed, lastHB := GetStatus()
	uptime := time.Since(startTime).Round(time.Second)
	memMB := float64(m.Alloc) / 1024 / 1024

	pulse, pulseColor := "OFFLINE", colorNeonMag
	switch delta := time.Since(lastHB); {
	case delta < 40*time.Second:
		pulse, pulseColor = "HEALTHY", colorNeonCyan
	case delta < 90*time.Second:
		pulse, pulseColor = "LAGGING", colorPurple
	}

	radar := " "
	if active > 0 {
		radar = radarFrames[radarIdx]
		radarIdx = (radarIdx + 1) % len(radarFrames)
	}

	return fmt.Sprintf(
		"%s[%s] %s%-7s%s | runs %s%s%s active=%d ok=%d failed=%d | up %v | %.1fMB",
		colorReset,
		lastHB.Format("15:04:05"),
		pulseColor, pulse, colorReset,
		colorPurple, radar, colorReset,
		active, completed, failed,
		uptime, memMB,
	)
}

// PrintLiveStatus redraws the status line in place on stdout.
func PrintLiveStatus() {
	line := StatusLine()
	termMu.Lock()
	fmt.Printf("\033[s\033[1;1H\033[K%s\033[u", line)
	termMu.Unlock()
}
