package antidetect

import "github.com/quizforge/question-harvester/internal/harvest"

// defaultIdentityPool returns the fingerprints the controller rotates
// through. Viewports and platforms are paired with matching user agents so
// a rotation stays internally consistent.
func defaultIdentityPool() []harvest.Identity {
	return []harvest.Identity{
		{
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
			AcceptLanguage: "en-US,en;q=0.9",
			Platform:       "Win32",
			ViewportWidth:  1920,
			ViewportHeight: 1080,
		},
		{
			UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
			AcceptLanguage: "en-US,en;q=0.8",
			Platform:       "MacIntel",
			ViewportWidth:  1680,
			ViewportHeight: 1050,
		},
		{
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
			AcceptLanguage: "en-GB,en;q=0.9",
			Platform:       "Linux x86_64",
			ViewportWidth:  1536,
			ViewportHeight: 864,
		},
		{
			UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
			AcceptLanguage: "en-US,en;q=0.9",
			Platform:       "MacIntel",
			ViewportWidth:  1440,
			ViewportHeight: 900,
		},
		{
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
			AcceptLanguage: "en-US,en;q=0.7",
			Platform:       "Win32",
			ViewportWidth:  1366,
			ViewportHeight: 768,
		},
	}
}
