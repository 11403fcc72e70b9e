package sync

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Napageneral/memsync/internal/adapters"
	"github.com/Napageneral/memsync/internal/config"
)

// ErrUnknownService is returned for a service or import kind outside the
// closed set below. Nothing runs for an unknown key.
var ErrUnknownService = errors.New("unknown service")

// Service identifies a live adapter.
type Service string

const (
	Discord   Service = "discord"
	Slack     Service = "slack"
	Anthropic Service = "anthropic"
	OpenAI    Service = "openai"
)

// LiveServices is the allow-list for API-triggered syncs.
var LiveServices = []Service{Discord, Slack, Anthropic, OpenAI}

// FileKind identifies a file adapter.
type FileKind string

const (
	KindIMessage  FileKind = "imessage"
	KindWhatsApp  FileKind = "whatsapp"
	KindOpenAI    FileKind = "openai"
	KindAnthropic FileKind = "anthropic"
	KindGeneric   FileKind = "generic"
)

var FileKinds = []FileKind{KindIMessage, KindWhatsApp, KindOpenAI, KindAnthropic, KindGeneric}

// LiveFactory builds a live adapter from configuration.
type LiveFactory func(cfg *config.Config, logf adapters.Logf) (adapters.Adapter, error)

// FileOptions carries per-import parameters.
type FileOptions struct {
	// ChatName labels a WhatsApp export.
	ChatName string
	// Location is the zone of local times in a WhatsApp export.
	Location *time.Location
}

// FileFactory builds a file adapter for one import.
type FileFactory func(opts FileOptions, logf adapters.Logf) adapters.FileAdapter

var liveRegistry = map[Service]LiveFactory{
	Discord: func(cfg *config.Config, logf adapters.Logf) (adapters.Adapter, error) {
		a, err := adapters.NewDiscordAdapter(cfg.Discord, cfg.Services[string(Discord)].RPS, logf)
		if err != nil {
			return nil, err
		}
		return a, nil
	},
	Slack: func(cfg *config.Config, logf adapters.Logf) (adapters.Adapter, error) {
		a, err := adapters.NewSlackAdapter(cfg.Slack, logf)
		if err != nil {
			return nil, err
		}
		return a, nil
	},
	Anthropic: func(cfg *config.Config, logf adapters.Logf) (adapters.Adapter, error) {
		a, err := adapters.NewAnthropicAdapter(cfg.Anthropic, cfg.Services[string(Anthropic)].RPS, logf)
		if err != nil {
			return nil, err
		}
		return a, nil
	},
	OpenAI: func(cfg *config.Config, logf adapters.Logf) (adapters.Adapter, error) {
		a, err := adapters.NewOpenAIAdapter(cfg.OpenAI, cfg.Services[string(OpenAI)].RPS, logf)
		if err != nil {
			return nil, err
		}
		return a, nil
	},
}

var fileRegistry = map[FileKind]FileFactory{
	KindIMessage: func(_ FileOptions, logf adapters.Logf) adapters.FileAdapter {
		return adapters.NewIMessageAdapter(logf)
	},
	KindWhatsApp: func(opts FileOptions, logf adapters.Logf) adapters.FileAdapter {
		a := adapters.NewWhatsAppAdapter(opts.ChatName, logf)
		if opts.Location != nil {
			a.Location = opts.Location
		}
		return a
	},
	KindOpenAI: func(_ FileOptions, logf adapters.Logf) adapters.FileAdapter {
		return adapters.NewOpenAIExportAdapter(logf)
	},
	KindAnthropic: func(_ FileOptions, logf adapters.Logf) adapters.FileAdapter {
		return adapters.NewAnthropicExportAdapter(logf)
	},
	KindGeneric: func(_ FileOptions, logf adapters.Logf) adapters.FileAdapter {
		return adapters.NewGenericAdapter(logf)
	},
}

// ParseService validates a live service key.
func ParseService(s string) (Service, error) {
	svc := Service(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := liveRegistry[svc]; !ok {
		return "", fmt.Errorf("%w: %s. Allowed: %s", ErrUnknownService, s, joinServices(LiveServices))
	}
	return svc, nil
}

// ParseFileKind validates an import kind.
func ParseFileKind(s string) (FileKind, error) {
	kind := FileKind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := fileRegistry[kind]; !ok {
		names := make([]string, len(FileKinds))
		for i, k := range FileKinds {
			names[i] = string(k)
		}
		return "", fmt.Errorf("%w: import kind %s. Allowed: %s", ErrUnknownService, s, strings.Join(names, ", "))
	}
	return kind, nil
}

func joinServices(services []Service) string {
	names := make([]string, len(services))
	for i, s := range services {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
