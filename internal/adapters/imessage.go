package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Napageneral/memsync/internal/ingest"
	"github.com/Napageneral/memsync/internal/normalize"
	"github.com/Napageneral/memsync/internal/store"
)

const imessageQuery = `
	SELECT
		m.rowid,
		m.text,
		m.date,
		m.is_from_me,
		m.associated_message_type,
		h.id,
		h.service
	FROM message m
	LEFT JOIN handle h ON m.handle_id = h.rowid
	WHERE m.text IS NOT NULL AND m.text != ''
	ORDER BY m.date ASC
`

// IMessageAdapter imports a chat.db snapshot. The snapshot is opened
// read-only and never modified.
type IMessageAdapter struct {
	Logf Logf
}

func NewIMessageAdapter(logf Logf) *IMessageAdapter {
	return &IMessageAdapter{Logf: orDefault(logf)}
}

func (a *IMessageAdapter) Name() string {
	return "imessage"
}

// DefaultChatDBPath is where macOS keeps the live Messages database.
func DefaultChatDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Library", "Messages", "chat.db")
}

func (a *IMessageAdapter) Import(ctx context.Context, st *store.Store, path string) (Result, error) {
	start := time.Now()
	result := Result{}
	logf := orDefault(a.Logf)

	if _, err := os.Stat(path); err != nil {
		return result, fmt.Errorf("chat.db not readable at %s: %w", path, err)
	}

	logf("[imessage] Opening %s...", path)
	chatDB, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return result, fmt.Errorf("failed to open chat.db: %w", err)
	}
	defer chatDB.Close()

	rows, err := chatDB.QueryContext(ctx, imessageQuery)
	if err != nil {
		return result, fmt.Errorf("failed to query chat.db: %w", err)
	}
	defer rows.Close()

	sink := ingest.NewSink(st, "imessage", logf)
	for rows.Next() {
		var (
			rowID       int64
			text        string
			date        sql.NullInt64
			isFromMe    sql.NullInt64
			assocType   sql.NullInt64
			handle      sql.NullString
			serviceName sql.NullString
		)
		if err := rows.Scan(&rowID, &text, &date, &isFromMe, &assocType, &handle, &serviceName); err != nil {
			result.Total++
			result.Skipped++
			skip("imessage", "malformed")
			logf("[imessage] skipping unreadable row: %v", err)
			continue
		}
		result.Total++

		// A row without a date has no stable natural key; a "now" fallback
		// would insert it again on every import.
		if !date.Valid {
			result.Skipped++
			skip("imessage", "no_date")
			continue
		}

		// Tapbacks and other reactions carry a non-zero associated type.
		if assocType.Valid && assocType.Int64 != 0 {
			result.Skipped++
			skip("imessage", "reaction")
			continue
		}

		other := "unknown"
		if handle.Valid && handle.String != "" {
			other = handle.String
		}
		sender, recipient := other, "me"
		if isFromMe.Int64 != 0 {
			sender, recipient = "me", other
		}

		var svc any
		if serviceName.Valid {
			svc = serviceName.String
		}
		sink.Put(ctx, ingest.Candidate{
			Content:   text,
			Sender:    sender,
			Recipient: recipient,
			Timestamp: normalize.CocoaTime(date.Int64),
			Metadata: map[string]any{
				"rowid":      rowID,
				"service":    svc,
				"is_from_me": isFromMe.Int64,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("failed iterating chat.db rows: %w", err)
	}

	finish(&result, sink, start)
	logf("[imessage] Done: %d inserted, %d skipped, %d duplicates", result.Inserted, result.Skipped, result.Duplicates)
	return result, nil
}
