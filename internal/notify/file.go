package notify

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"watchhound/internal/events"
)

// Default rotation limits for the file sink.
const (
	DefaultMaxFileBytes = 5 * 1024 * 1024
	DefaultBackupCount  = 3
)

var severityStyles = map[events.Severity]lipgloss.Style{
	events.SeverityDebug:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	events.SeverityInfo:     lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
	events.SeverityWarning:  lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	events.SeverityError:    lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
	events.SeverityCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("1")),
}

// FileConfig configures the file/console sink.
type FileConfig struct {
	Dir      string // log directory, created if missing
	Filename string // defaults to notifications.log
	MaxBytes int64  // rotate when the file exceeds this size
	Backups  int    // rotated files to keep
	Console  bool   // also write a colored rendering to stderr
}

// FileNotifier writes plain-text event renderings to a size-and-count
// rotated log file and optionally to the console. It is the always-on
// fallback sink: it accepts everything from DEBUG up by default and keeps
// working without network access.
type FileNotifier struct {
	base
	cfg     FileConfig
	console io.Writer

	mu   sync.Mutex
	file *os.File
	size int64
	path string
}

// NewFile creates the file/console sink. A file that cannot be opened is
// not fatal — the sink degrades to console-only and logs the problem.
func NewFile(cfg FileConfig, opts Options) *FileNotifier {
	if opts.MinSeverity == 0 {
		opts.MinSeverity = events.SeverityDebug
	}
	if cfg.Filename == "" {
		cfg.Filename = "notifications.log"
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxFileBytes
	}
	if cfg.Backups < 0 {
		cfg.Backups = DefaultBackupCount
	}

	n := &FileNotifier{
		base:    newBase("file", opts),
		cfg:     cfg,
		console: os.Stderr,
	}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			log.Printf("notify: file sink cannot create %s: %v", cfg.Dir, err)
		} else {
			n.path = filepath.Join(cfg.Dir, cfg.Filename)
			if err := n.open(); err != nil {
				log.Printf("notify: file sink cannot open %s: %v", n.path, err)
				n.path = ""
			}
		}
	}
	return n
}

func (n *FileNotifier) open() error {
	f, err := os.OpenFile(n.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	n.file = f
	n.size = info.Size()
	return nil
}

// Deliver writes the event. A file write failure is reported as delivery
// failure, but the console rendering is still attempted as a secondary
// path so the event is never silently lost.
func (n *FileNotifier) Deliver(e events.Event) bool {
	text := e.PlainText()
	ok := true

	if n.path != "" {
		if err := n.writeFile(text); err != nil {
			log.Printf("notify: file sink write: %v", err)
			ok = false
		}
	}

	if n.cfg.Console {
		out := text
		if style, found := severityStyles[e.Severity]; found {
			out = style.Render(text)
		}
		fmt.Fprintln(n.console, out)
	}
	return ok
}

func (n *FileNotifier) writeFile(text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.file == nil {
		if err := n.open(); err != nil {
			return err
		}
	}
	if n.size >= n.cfg.MaxBytes {
		if err := n.rotate(); err != nil {
			return err
		}
	}

	written, err := fmt.Fprintln(n.file, text)
	n.size += int64(written)
	return err
}

// rotate shifts file -> file.1 -> file.2 ... keeping cfg.Backups copies.
func (n *FileNotifier) rotate() error {
	if err := n.file.Close(); err != nil {
		return err
	}
	n.file = nil

	if n.cfg.Backups == 0 {
		if err := os.Remove(n.path); err != nil && !os.IsNotExist(err) {
			return err
		}
	} else {
		os.Remove(fmt.Sprintf("%s.%d", n.path, n.cfg.Backups))
		for i := n.cfg.Backups - 1; i >= 1; i-- {
			os.Rename(fmt.Sprintf("%s.%d", n.path, i), fmt.Sprintf("%s.%d", n.path, i+1))
		}
		if err := os.Rename(n.path, n.path+".1"); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return n.open()
}

// Shutdown closes the log file.
func (n *FileNotifier) Shutdown() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.file == nil {
		return nil
	}
	err := n.file.Close()
	n.file = nil
	return err
}
