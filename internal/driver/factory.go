// Package driver selects fetch implementations for crawl sessions.
package driver

import (
	"fmt"

	"github.com/quizforge/question-harvester/internal/driver/collyhttp"
	"github.com/quizforge/question-harvester/internal/driver/headless"
	"github.com/quizforge/question-harvester/internal/harvest"
)

// Factory opens drivers by kind. Each Open call returns a fresh driver;
// the executor owns its lifetime and closes it at the end of the run.
type Factory struct {
	httpCfg         collyhttp.Config
	headlessCfg     headless.Config
	headlessEnabled bool
}

// NewFactory builds a Factory. When headlessEnabled is false, browser
// driver requests fail and sources configured for it cannot be crawled.
func NewFactory(httpCfg collyhttp.Config, headlessCfg headless.Config, headlessEnabled bool) *Factory {
	return &Factory{
		httpCfg:         httpCfg,
		headlessCfg:     headlessCfg,
		headlessEnabled: headlessEnabled,
	}
}

// Open implements executor.DriverFactory.
func (f *Factory) Open(kind harvest.DriverKind) (harvest.Driver, error) {
	switch kind {
	case harvest.DriverKindHTTP, "":
		return collyhttp.New(f.httpCfg), nil
	case harvest.DriverKindBrowser:
		if !f.headlessEnabled {
			return nil, fmt.Errorf("browser driver is disabled")
		}
		return headless.New(f.headlessCfg)
	default:
		return nil, fmt.Errorf("unknown driver kind %q", kind)
	}
}
