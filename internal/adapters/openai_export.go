package adapters

import (
	"context"
	"sort"
	"time"

	"github.com/Napageneral/memsync/internal/ingest"
	"github.com/Napageneral/memsync/internal/normalize"
	"github.com/Napageneral/memsync/internal/store"
)

// OpenAIExportAdapter imports conversations.json from a ChatGPT data export.
type OpenAIExportAdapter struct {
	Logf Logf
}

func NewOpenAIExportAdapter(logf Logf) *OpenAIExportAdapter {
	return &OpenAIExportAdapter{Logf: orDefault(logf)}
}

func (a *OpenAIExportAdapter) Name() string {
	return "openai-export"
}

func (a *OpenAIExportAdapter) Import(ctx context.Context, st *store.Store, path string) (Result, error) {
	data, err := readJSONFile(path)
	if err != nil {
		return Result{}, err
	}
	return a.ImportValue(ctx, st, data)
}

func (a *OpenAIExportAdapter) ImportValue(ctx context.Context, st *store.Store, data any) (Result, error) {
	start := time.Now()
	result := Result{}
	logf := orDefault(a.Logf)
	sink := ingest.NewSink(st, "openai", logf)

	for _, convo := range conversationList(data) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Conversations++
		for _, msg := range mappingMessages(asMap(convo["mapping"])) {
			content := normalize.StringParts(asSlice(asMap(msg["content"])["parts"]))
			if content == "" {
				result.Skipped++
				skip("openai", "empty")
				continue
			}
			result.Total++

			role := normalize.FirstString(asMap(msg["author"]), "role")
			if role == "" {
				role = "unknown"
			}
			sender, recipient := pairFor(role == "user", "assistant")
			sink.Put(ctx, ingest.Candidate{
				Content:   content,
				Sender:    sender,
				Recipient: recipient,
				Timestamp: normalize.TimeOrNow(msg["create_time"], convo["create_time"]),
				Metadata: compact(map[string]any{
					"conversationId":    convo["id"],
					"conversationTitle": convo["title"],
					"model":             asMap(msg["metadata"])["model_slug"],
				}),
			})
		}
	}

	finish(&result, sink, start)
	logf("[openai] Done: %d messages from %d conversations", result.Inserted, result.Conversations)
	return result, nil
}

// mappingMessages flattens the node tree of a conversation into its
// messages, ordered by creation time then node id. Nodes without a message
// (the synthetic root) are dropped.
func mappingMessages(mapping map[string]any) []map[string]any {
	type node struct {
		id      string
		created float64
		msg     map[string]any
	}
	nodes := make([]node, 0, len(mapping))
	for id, raw := range mapping {
		msg := asMap(asMap(raw)["message"])
		if msg == nil {
			continue
		}
		created, _ := msg["create_time"].(float64)
		nodes = append(nodes, node{id: id, created: created, msg: msg})
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].created != nodes[j].created {
			return nodes[i].created < nodes[j].created
		}
		return nodes[i].id < nodes[j].id
	})
	out := make([]map[string]any, len(nodes))
	for i, n := range nodes {
		out[i] = n.msg
	}
	return out
}
