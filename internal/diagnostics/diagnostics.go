// Package diagnostics exposes the process-wide engine settings, the
// request counters and the format table, and applies runtime changes to
// them.
package diagnostics

import (
	"fmt"

	"github.com/dunamismax/pixelpipe/internal/accounting"
	"github.com/dunamismax/pixelpipe/internal/engine"
	"github.com/dunamismax/pixelpipe/internal/imagetype"
	"github.com/dunamismax/pixelpipe/internal/pipeline"
	"github.com/sirupsen/logrus"
)

type FormatInfo struct {
	ID        string               `json:"id"`
	Loader    string               `json:"loader"`
	Support   engine.FormatSupport `json:"support"`
	Pages     bool                 `json:"pages"`
	Unlimited bool                 `json:"unlimited"`
	Vector    bool                 `json:"vector"`
	Blocked   bool                 `json:"blocked"`
	Output    string               `json:"output,omitempty"`
}

type Snapshot struct {
	Engine      string              `json:"engine"`
	Cache       engine.CacheLimits  `json:"cache"`
	Concurrency int                 `json:"concurrency"`
	Vector      bool                `json:"vector"`
	Counters    accounting.Snapshot `json:"counters"`
	Blocked     []string            `json:"blocked"`
	Formats     []FormatInfo        `json:"formats"`
}

// Update carries the settings to change. Nil fields are left alone.
type Update struct {
	Cache       *engine.CacheLimits `json:"cache,omitempty"`
	Concurrency *int                `json:"concurrency,omitempty"`
	Vector      *bool               `json:"vector,omitempty"`
	Block       []string            `json:"block,omitempty"`
	Unblock     []string            `json:"unblock,omitempty"`
}

func (u Update) Validate() error {
	if c := u.Cache; c != nil && (c.MemoryMB < 0 || c.Files < 0 || c.Items < 0) {
		return fmt.Errorf("cache limits must be non-negative")
	}
	if u.Concurrency != nil && *u.Concurrency < 0 {
		return fmt.Errorf("concurrency must be non-negative")
	}
	return nil
}

type Service struct {
	processor *pipeline.Processor
	logger    *logrus.Entry
}

func NewService(processor *pipeline.Processor, logger *logrus.Entry) *Service {
	return &Service{processor: processor, logger: logger}
}

func (s *Service) Snapshot() Snapshot {
	eng := s.processor.Engine()
	blocklist := eng.Blocklist()
	formats := make([]FormatInfo, 0, len(imagetype.All))
	for _, t := range imagetype.All {
		info := FormatInfo{
			ID:        t.String(),
			Loader:    t.Loader(),
			Support:   eng.Capabilities(t),
			Pages:     t.SupportsPages(),
			Unlimited: t.SupportsUnlimited(),
			Vector:    t.IsVector(),
			Blocked:   blocklist.Blocked(t.Loader()),
		}
		if f, ok := imagetype.FromType(t); ok {
			info.Output = f.String()
		}
		formats = append(formats, info)
	}
	return Snapshot{
		Engine:      eng.Name(),
		Cache:       eng.Cache(),
		Concurrency: s.processor.Concurrency(),
		Vector:      eng.Vector(),
		Counters:    s.processor.Counters().Snapshot(),
		Blocked:     blocklist.List(),
		Formats:     formats,
	}
}

// Apply changes the requested settings and returns the resulting snapshot.
// A concurrency of zero restores the engine default.
func (s *Service) Apply(u Update) (Snapshot, error) {
	if err := u.Validate(); err != nil {
		return Snapshot{}, err
	}
	eng := s.processor.Engine()
	fields := logrus.Fields{}
	if u.Cache != nil {
		eng.SetCache(*u.Cache)
		fields["cache"] = *u.Cache
	}
	if u.Concurrency != nil {
		s.processor.SetConcurrency(*u.Concurrency)
		if *u.Concurrency == 0 {
			s.processor.SetConcurrency(eng.Concurrency())
		}
		fields["concurrency"] = s.processor.Concurrency()
	}
	if u.Vector != nil {
		fields["vector"] = eng.SetVector(*u.Vector)
	}
	if len(u.Block) > 0 {
		eng.Blocklist().Set(u.Block, true)
		fields["block"] = u.Block
	}
	if len(u.Unblock) > 0 {
		eng.Blocklist().Set(u.Unblock, false)
		fields["unblock"] = u.Unblock
	}
	if s.logger != nil && len(fields) > 0 {
		s.logger.WithFields(fields).Info("settings updated")
	}
	return s.Snapshot(), nil
}
