package llm

import (
	"net/http"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

// maxLoggedOutput caps how much generated text is written to the debug log.
const maxLoggedOutput = 8192

// httpClientForEndpoint returns a client whose requests go to baseEndpoint
// instead of the SDK's default host. Nil when baseEndpoint is not a URL.
func httpClientForEndpoint(baseEndpoint string) *http.Client {
	base, err := url.Parse(baseEndpoint)
	if err != nil || base.Host == "" {
		log.Warn().Err(err).Str("endpoint", baseEndpoint).Msg("Invalid GEMINI_API_ENDPOINT, using default")
		return nil
	}
	base.Path = strings.TrimSuffix(base.Path, "/")
	return &http.Client{Transport: &baseURLTransport{base: base, next: http.DefaultTransport}}
}

// baseURLTransport moves each request under base, keeping its path and query.
type baseURLTransport struct {
	base *url.URL
	next http.RoundTripper
}

func (t *baseURLTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = t.base.Scheme
	out.URL.Host = t.base.Host
	out.URL.Path = path.Join("/", t.base.Path, strings.TrimPrefix(req.URL.Path, "/"))
	out.Host = ""
	return t.next.RoundTrip(out)
}

// logModelOutput writes generated text at debug level, cut on a rune boundary.
func logModelOutput(source, text string) {
	ev := log.Debug().Str("source", source).Int("output_len", len(text))
	if len(text) > maxLoggedOutput {
		cut := maxLoggedOutput
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "... [truncated]"
	}
	ev.Str("output", text).Msg("Model output")
}
