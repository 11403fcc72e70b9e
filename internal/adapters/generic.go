package adapters

import (
	"context"
	"time"

	"github.com/Napageneral/memsync/internal/ingest"
	"github.com/Napageneral/memsync/internal/normalize"
	"github.com/Napageneral/memsync/internal/store"
)

// GenericAdapter imports a JSON array of loosely shaped message objects
// into the "import" source.
type GenericAdapter struct {
	Logf Logf
}

func NewGenericAdapter(logf Logf) *GenericAdapter {
	return &GenericAdapter{Logf: orDefault(logf)}
}

func (a *GenericAdapter) Name() string {
	return "generic"
}

func (a *GenericAdapter) Import(ctx context.Context, st *store.Store, path string) (Result, error) {
	data, err := readJSONFile(path)
	if err != nil {
		return Result{}, err
	}
	return a.ImportValue(ctx, st, data)
}

// ImportValue imports already decoded JSON. Anything but an array imports
// nothing.
func (a *GenericAdapter) ImportValue(ctx context.Context, st *store.Store, data any) (Result, error) {
	start := time.Now()
	result := Result{}
	logf := orDefault(a.Logf)
	sink := ingest.NewSink(st, "import", logf)

	for _, item := range asSlice(data) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Total++
		msg, ok := item.(map[string]any)
		if !ok {
			result.Skipped++
			skip("import", "malformed")
			continue
		}

		sender := normalize.FirstString(msg, "sender", "from")
		if sender == "" {
			sender = "unknown"
		}
		recipient := normalize.FirstString(msg, "recipient", "to")
		if recipient == "" {
			recipient = "unknown"
		}
		metadata := asMap(msg["metadata"])
		if metadata == nil {
			metadata = map[string]any{}
		}

		sink.Put(ctx, ingest.Candidate{
			Content:   normalize.FirstString(msg, "content", "message", "text"),
			Sender:    sender,
			Recipient: recipient,
			Timestamp: normalize.TimeOrNow(msg["timestamp"], msg["date"]),
			Metadata:  metadata,
		})
	}

	finish(&result, sink, start)
	logf("[import] Done: %d of %d records inserted", result.Inserted, result.Total)
	return result, nil
}
