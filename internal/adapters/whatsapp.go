package adapters

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Napageneral/memsync/internal/ingest"
	"github.com/Napageneral/memsync/internal/normalize"
	"github.com/Napageneral/memsync/internal/store"
)

// Exports put a narrow no-break space (or a plain no-break space) before
// AM/PM depending on the phone's locale.
const waSpace = `[\s\x{202F}\x{00A0}]`

type waPattern struct {
	re       *regexp.Regexp
	dayFirst bool
}

// Tried in order; the first match wins.
var waPatterns = []waPattern{
	// [M/D/YY, H:MM:SS AM] Name: Message
	{re: regexp.MustCompile(`(?i)^\[(\d{1,2}/\d{1,2}/\d{2,4},` + waSpace + `+\d{1,2}:\d{2}(?::\d{2})?` + waSpace + `*[AP]M)\]` + waSpace + `+([^:]+):` + waSpace + `+(.*)`)},
	// M/D/YY, H:MM AM - Name: Message
	{re: regexp.MustCompile(`(?i)^(\d{1,2}/\d{1,2}/\d{2,4},` + waSpace + `+\d{1,2}:\d{2}(?::\d{2})?` + waSpace + `*[AP]M)` + waSpace + `*-` + waSpace + `+([^:]+):` + waSpace + `+(.*)`)},
	// D/M/YY, HH:MM - Name: Message
	{re: regexp.MustCompile(`(?i)^(\d{1,2}/\d{1,2}/\d{2,4},` + waSpace + `+\d{1,2}:\d{2})` + waSpace + `*-` + waSpace + `+([^:]+):` + waSpace + `+(.*)`), dayFirst: true},
}

var waDate = regexp.MustCompile(`(?i)^(\d{1,2})/(\d{1,2})/(\d{2,4}),` + waSpace + `+(\d{1,2}):(\d{2})(?::(\d{2}))?` + waSpace + `*([AP]M)?$`)

var waSystemMarkers = []string{
	"Messages and calls are end-to-end encrypted",
	"created group",
	"added you",
}

const waMediaOmitted = "<Media omitted>"

// WhatsAppAdapter imports a WhatsApp "Export chat" text file.
type WhatsAppAdapter struct {
	// ChatName labels the conversation; it becomes the recipient.
	ChatName string
	// Location is the zone the phone's clock was in. Defaults to UTC.
	Location *time.Location
	Logf     Logf
}

func NewWhatsAppAdapter(chatName string, logf Logf) *WhatsAppAdapter {
	return &WhatsAppAdapter{ChatName: strings.TrimSpace(chatName), Location: time.UTC, Logf: orDefault(logf)}
}

func (a *WhatsAppAdapter) Name() string {
	return "whatsapp"
}

type waMessage struct {
	timestamp time.Time
	sender    string
	content   string
}

type waLine int

const (
	waContinuation waLine = iota
	waMessageLine
	waSystemLine
)

// parseLine classifies one export line.
func (a *WhatsAppAdapter) parseLine(line string) (waMessage, waLine) {
	for _, p := range waPatterns {
		m := p.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		content := strings.TrimSpace(m[3])
		if isWhatsAppSystem(content) {
			return waMessage{}, waSystemLine
		}
		ts, ok := parseWhatsAppDate(m[1], p.dayFirst, a.location())
		if !ok {
			ts = normalize.Now()
		}
		return waMessage{timestamp: ts, sender: strings.TrimSpace(m[2]), content: content}, waMessageLine
	}
	return waMessage{}, waContinuation
}

func isWhatsAppSystem(content string) bool {
	if content == waMediaOmitted {
		return true
	}
	for _, marker := range waSystemMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}

func (a *WhatsAppAdapter) location() *time.Location {
	if a.Location == nil {
		return time.UTC
	}
	return a.Location
}

// parseWhatsAppDate reads "1/15/26, 3:45:12 PM" style stamps. US patterns
// are month first; the 24-hour pattern tries day first, then month first.
func parseWhatsAppDate(s string, dayFirst bool, loc *time.Location) (time.Time, bool) {
	m := waDate.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return time.Time{}, false
	}
	a, _ := strconv.Atoi(m[1])
	b, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	hour, _ := strconv.Atoi(m[4])
	minute, _ := strconv.Atoi(m[5])
	second := 0
	if m[6] != "" {
		second, _ = strconv.Atoi(m[6])
	}
	if len(m[3]) <= 2 {
		if year < 70 {
			year += 2000
		} else {
			year += 1900
		}
	}
	switch strings.ToUpper(m[7]) {
	case "AM":
		if hour == 12 {
			hour = 0
		}
	case "PM":
		if hour != 12 {
			hour += 12
		}
	}
	if hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, false
	}

	orders := [][2]int{{a, b}, {b, a}} // (month, day)
	if dayFirst {
		orders = [][2]int{{b, a}, {a, b}}
	}
	for _, o := range orders {
		month, day := o[0], o[1]
		if month < 1 || month > 12 || day < 1 {
			continue
		}
		t := time.Date(year, time.Month(month), day, hour, minute, second, 0, loc)
		if t.Day() != day {
			// time.Date normalised an impossible day like 2/30.
			continue
		}
		return t.UTC(), true
	}
	return time.Time{}, false
}

func cleanWhatsAppLine(line string) string {
	line = strings.TrimRight(line, "\r\n")
	return strings.TrimLeft(line, "\u200e\ufeff")
}

func (a *WhatsAppAdapter) Import(ctx context.Context, st *store.Store, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open chat export: %w", err)
	}
	defer f.Close()
	orDefault(a.Logf)("[whatsapp] Reading %s...", path)
	return a.ImportReader(ctx, st, f)
}

// ImportReader parses an export from r.
func (a *WhatsAppAdapter) ImportReader(ctx context.Context, st *store.Store, r io.Reader) (Result, error) {
	start := time.Now()
	result := Result{}
	logf := orDefault(a.Logf)
	sink := ingest.NewSink(st, "whatsapp", logf)

	recipient := a.ChatName
	if recipient == "" {
		recipient = "unknown"
	}
	var metadata map[string]any
	if a.ChatName != "" {
		metadata = map[string]any{"chat": a.ChatName}
	}

	var current *waMessage
	flush := func() {
		if current == nil {
			return
		}
		result.Total++
		sink.Put(ctx, ingest.Candidate{
			Content:   current.content,
			Sender:    current.sender,
			Recipient: recipient,
			Timestamp: current.timestamp,
			Metadata:  metadata,
		})
		current = nil
	}

	br := bufio.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		raw, readErr := br.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return result, fmt.Errorf("failed to read chat export: %w", readErr)
		}
		result.Lines++
		line := cleanWhatsAppLine(raw)

		msg, kind := a.parseLine(line)
		switch kind {
		case waMessageLine:
			flush()
			current = &msg
		case waSystemLine:
			flush()
			result.Skipped++
			skip("whatsapp", "system")
		default:
			if current != nil && strings.TrimSpace(line) != "" {
				current.content += "\n" + line
			}
		}

		if readErr != nil {
			break
		}
	}
	flush()

	finish(&result, sink, start)
	logf("[whatsapp] Done: %d messages inserted from %d lines", result.Inserted, result.Lines)
	return result, nil
}
