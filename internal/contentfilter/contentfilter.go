// Package contentfilter implements the optional content-filter middleware:
// a blacklist, an HTML sanitizer, a PII redactor, and a size manager,
// each independently configurable and hot-reloadable (§4.8, C8).
package contentfilter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/gaspardpetit/mcpbridge/internal/filter"
	"github.com/gaspardpetit/mcpbridge/internal/wire"
)

// Config is the middleware's hot-reloadable configuration, matching the
// filter-config file format documented in spec.md §6.5 field-for-field.
type Config struct {
	BlockedDomains  []string `json:"blocked_domains" yaml:"blocked_domains"`
	BlockedKeywords []string `json:"blocked_keywords" yaml:"blocked_keywords"`
	BlockedPatterns []string `json:"blocked_patterns" yaml:"blocked_patterns"`

	RedactEmails      bool `json:"redact_emails" yaml:"redact_emails"`
	RedactPhones      bool `json:"redact_phones" yaml:"redact_phones"`
	RedactSSNs        bool `json:"redact_ssns" yaml:"redact_ssns"`
	RedactCreditCards bool `json:"redact_credit_cards" yaml:"redact_credit_cards"`

	RemoveScripts  bool `json:"remove_scripts" yaml:"remove_scripts"`
	RemoveTrackers bool `json:"remove_trackers" yaml:"remove_trackers"`

	MaxResponseLength  int `json:"max_response_length" yaml:"max_response_length"`
	SummarizeThreshold int `json:"summarize_threshold" yaml:"summarize_threshold"`
	HardTruncate       int `json:"hard_truncate" yaml:"hard_truncate"`
}

// DefaultConfig returns the middleware in its inert, all-disabled state:
// every list is empty and every redact_*/remove_* flag is false, so each
// stage's fast-path Pass check trips immediately.
func DefaultConfig() *Config {
	return &Config{}
}

// ParseConfig decodes raw bytes as JSON or YAML depending on the leading
// non-whitespace byte, matching the config-format sniffing described for
// this middleware.
func ParseConfig(raw []byte) (*Config, error) {
	trimmed := bytes.TrimSpace(raw)
	cfg := DefaultConfig()
	if len(trimmed) == 0 {
		return cfg, nil
	}
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, cfg); err != nil {
			return nil, fmt.Errorf("contentfilter: parse json config: %w", err)
		}
		return cfg, nil
	}
	if err := yaml.Unmarshal(trimmed, cfg); err != nil {
		return nil, fmt.Errorf("contentfilter: parse yaml config: %w", err)
	}
	return cfg, nil
}

// Middleware holds an atomically-swappable Config, allowing concurrent
// filter evaluation while a reload replaces the whole config at once, plus
// the per-filter counters GET /filters/metrics reports.
type Middleware struct {
	cfg     atomic.Pointer[Config]
	countMu sync.Mutex
	counts  map[string]int64
}

// New constructs a Middleware from an initial config.
func New(cfg *Config) *Middleware {
	m := &Middleware{counts: make(map[string]int64)}
	m.cfg.Store(cfg)
	return m
}

// Reload atomically swaps in a new config, e.g. after a POST to
// /filters/config. In-flight filter calls finish under the config snapshot
// they already loaded.
func (m *Middleware) Reload(cfg *Config) {
	m.cfg.Store(cfg)
}

// Config returns the currently active config snapshot.
func (m *Middleware) Config() *Config {
	return m.cfg.Load()
}

func (m *Middleware) incr(key string) {
	m.countMu.Lock()
	m.counts[key]++
	m.countMu.Unlock()
}

// Metrics returns a snapshot of every per-filter counter recorded so far,
// keyed by dotted names such as "pii_redactor.redactions.email" (Scenario C)
// or "size_manager.summarized", for GET /filters/metrics.
func (m *Middleware) Metrics() map[string]int64 {
	m.countMu.Lock()
	defer m.countMu.Unlock()
	out := make(map[string]int64, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out
}

// FilterNames lists the filter names this middleware registers, used by
// /health's content_filtering.filters field.
func (m *Middleware) FilterNames() []string {
	return []string{"content_blacklist", "content_html_sanitizer", "content_pii_redactor", "content_size_manager"}
}

// Register wires the middleware's four stages into a filter.Chain as
// distinct named, independently-toggleable filters, in the order the size
// manager should see already-sanitized content: blacklist, html sanitizer,
// pii redactor, size manager.
func (m *Middleware) Register(c *filter.Chain) {
	c.Register("content_blacklist", "Blocks messages matching a configured domain/keyword/pattern blacklist", filter.Both, true, m.blacklistFilter)
	c.Register("content_html_sanitizer", "Strips scripts, iframes, event handlers, and tracking pixels from string fields", filter.Both, true, m.htmlSanitizerFilter)
	c.Register("content_pii_redactor", "Redacts configured PII patterns from string fields", filter.Both, true, m.piiRedactorFilter)
	c.Register("content_size_manager", "Truncates or summarizes oversized payloads", filter.Both, true, m.sizeManagerFilter)
}

func blockedByPolicy(reason string) filter.Result {
	data, _ := json.Marshal(map[string]string{"reason": reason})
	return filter.Result{
		Action: filter.Block,
		Err: &wire.RPCError{
			Code:    wire.CodeBlockedByPolicy,
			Message: "blocked by policy",
			Data:    data,
		},
	}
}

// blacklistFilter examines message content for configured domains,
// keywords, and regexes (§4.8 item 1, Scenario D).
func (m *Middleware) blacklistFilter(direction filter.Direction, sessionID string, msg *wire.Message) filter.Result {
	cfg := m.cfg.Load()
	if len(cfg.BlockedDomains) == 0 && len(cfg.BlockedKeywords) == 0 && len(cfg.BlockedPatterns) == 0 {
		return filter.Result{Action: filter.Pass}
	}
	text := payloadText(msg)
	for _, d := range cfg.BlockedDomains {
		if d != "" && strings.Contains(text, d) {
			m.incr("blacklist.blocks.domain")
			return blockedByPolicy("domain:" + d)
		}
	}
	for _, k := range cfg.BlockedKeywords {
		if k != "" && strings.Contains(text, k) {
			m.incr("blacklist.blocks.keyword")
			return blockedByPolicy("keyword:" + k)
		}
	}
	for _, p := range cfg.BlockedPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		if re.MatchString(text) {
			m.incr("blacklist.blocks.pattern")
			return blockedByPolicy("pattern:" + p)
		}
	}
	return filter.Result{Action: filter.Pass}
}

var (
	scriptTagPattern   = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	iframeTagPattern   = regexp.MustCompile(`(?is)<iframe[^>]*>.*?</iframe>`)
	eventHandlerAttr   = regexp.MustCompile(`(?i)\s+on\w+\s*=\s*"[^"]*"`)
	eventHandlerAttrSQ = regexp.MustCompile(`(?i)\s+on\w+\s*=\s*'[^']*'`)
	javascriptURI      = regexp.MustCompile(`(?i)javascript:[^"'\s>]*`)
	trackingPixelImg   = regexp.MustCompile(`(?is)<img[^>]*\b(?:width|height)=["']?1["']?[^>]*>`)
	collapseWhitespace = regexp.MustCompile(`[ \t]{2,}`)
)

func sanitizeHTML(cfg *Config, s string) string {
	out := s
	if cfg.RemoveScripts {
		out = scriptTagPattern.ReplaceAllString(out, "")
		out = iframeTagPattern.ReplaceAllString(out, "")
		out = eventHandlerAttr.ReplaceAllString(out, "")
		out = eventHandlerAttrSQ.ReplaceAllString(out, "")
		out = javascriptURI.ReplaceAllString(out, "")
	}
	if cfg.RemoveTrackers {
		out = trackingPixelImg.ReplaceAllString(out, "")
	}
	return collapseWhitespace.ReplaceAllString(out, " ")
}

func (m *Middleware) htmlSanitizerFilter(direction filter.Direction, sessionID string, msg *wire.Message) filter.Result {
	cfg := m.cfg.Load()
	if !cfg.RemoveScripts && !cfg.RemoveTrackers {
		return filter.Result{Action: filter.Pass}
	}
	transformed, changed := transformStrings(msg, func(s string) string { return sanitizeHTML(cfg, s) })
	if !changed {
		return filter.Result{Action: filter.Pass}
	}
	return filter.Result{Action: filter.Transform, Message: transformed}
}

// piiPatterns catch the common, low-false-positive PII shapes spec.md §6.5
// enumerates. A string that looksLikeBase64Run is left untouched by
// redactPII, so credential blobs are not mistaken for phone numbers or card
// numbers.
var piiPatterns = []struct {
	name    string
	re      *regexp.Regexp
	cfgFlag func(*Config) bool
}{
	{"email", regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), func(c *Config) bool { return c.RedactEmails }},
	{"phone", regexp.MustCompile(`\b(?:\+?1[-. ]?)?\(?\d{3}\)?[-. ]\d{3}[-. ]\d{4}\b`), func(c *Config) bool { return c.RedactPhones }},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), func(c *Config) bool { return c.RedactSSNs }},
	{"credit_card", regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`), func(c *Config) bool { return c.RedactCreditCards }},
}

func (m *Middleware) piiRedactorFilter(direction filter.Direction, sessionID string, msg *wire.Message) filter.Result {
	cfg := m.cfg.Load()
	if !cfg.RedactEmails && !cfg.RedactPhones && !cfg.RedactSSNs && !cfg.RedactCreditCards {
		return filter.Result{Action: filter.Pass}
	}
	transformed, changed := transformStrings(msg, func(s string) string { return m.redactPII(cfg, s) })
	if !changed {
		return filter.Result{Action: filter.Pass}
	}
	return filter.Result{Action: filter.Transform, Message: transformed}
}

// looksLikeBase64Run reports whether s is a long, high-entropy token that
// is more likely an encoded blob than natural text; the PII patterns above
// are skipped inside such runs to avoid corrupting credentials in transit.
func looksLikeBase64Run(s string) bool {
	if len(s) < 40 {
		return false
	}
	const b64 = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/=_-"
	for _, r := range s {
		if !strings.ContainsRune(b64, r) {
			return false
		}
	}
	return true
}

func (m *Middleware) redactPII(cfg *Config, s string) string {
	if looksLikeBase64Run(s) {
		return s
	}
	out := s
	for _, p := range piiPatterns {
		if !p.cfgFlag(cfg) {
			continue
		}
		n := 0
		out = p.re.ReplaceAllStringFunc(out, func(match string) string {
			n++
			return "[" + strings.ToUpper(p.name) + "_REDACTED]"
		})
		if n > 0 {
			m.incr("pii_redactor.redactions." + p.name)
		}
	}
	return out
}

func (m *Middleware) sizeManagerFilter(direction filter.Direction, sessionID string, msg *wire.Message) filter.Result {
	cfg := m.cfg.Load()
	if cfg.SummarizeThreshold <= 0 && cfg.HardTruncate <= 0 {
		return filter.Result{Action: filter.Pass}
	}
	total := len(msg.Params) + len(msg.Result)
	cp := *msg
	switch {
	case cfg.HardTruncate > 0 && total > cfg.HardTruncate:
		m.incr("size_manager.hard_truncated")
		cp.Params = hardTruncate(msg.Params, cfg.HardTruncate)
		cp.Result = hardTruncate(msg.Result, cfg.HardTruncate)
	case cfg.SummarizeThreshold > 0 && total > cfg.SummarizeThreshold:
		m.incr("size_manager.summarized")
		cp.Params = summarize(msg.Params, cfg.SummarizeThreshold)
		cp.Result = summarize(msg.Result, cfg.SummarizeThreshold)
	default:
		return filter.Result{Action: filter.Pass}
	}
	return filter.Result{Action: filter.Transform, Message: &cp}
}

// summarize replaces an oversized field with a JSON object whose summary is
// the first threshold/2 bytes of the raw field followed by
// " … [truncated, original length X]". The preview is cut by byte count,
// not at sentence boundaries.
func summarize(raw json.RawMessage, threshold int) json.RawMessage {
	if len(raw) <= threshold {
		return raw
	}
	preview := safePreview(raw, threshold/2)
	note := fmt.Sprintf(`{"summary":%q,"truncated":true,"original_length":%d}`, preview+" … [truncated, original length "+fmt.Sprint(len(raw))+"]", len(raw))
	return json.RawMessage(note)
}

func hardTruncate(raw json.RawMessage, limit int) json.RawMessage {
	if len(raw) <= limit {
		return raw
	}
	return json.RawMessage(fmt.Sprintf(`{"truncated":"[TRUNCATED]","original_length":%d}`, len(raw)))
}

func safePreview(raw json.RawMessage, n int) string {
	if n > len(raw) {
		n = len(raw)
	}
	return string(raw[:n])
}

// payloadText concatenates the message's params/result/error text for
// pattern matching against the blacklist.
func payloadText(msg *wire.Message) string {
	var b strings.Builder
	b.Write(msg.Params)
	b.Write(msg.Result)
	if msg.Error != nil {
		b.WriteString(msg.Error.Message)
		b.Write(msg.Error.Data)
	}
	return b.String()
}

// transformStrings applies fn to every string leaf in params/result/error
// data, returning the new message and whether anything actually changed.
func transformStrings(msg *wire.Message, fn func(string) string) (*wire.Message, bool) {
	changed := false
	apply := func(raw json.RawMessage) json.RawMessage {
		if len(raw) == 0 {
			return raw
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return raw
		}
		out := mapStrings(decoded, fn, &changed)
		encoded, err := json.Marshal(out)
		if err != nil {
			return raw
		}
		return encoded
	}
	cp := *msg
	cp.Params = apply(msg.Params)
	cp.Result = apply(msg.Result)
	if msg.Error != nil {
		errCp := *msg.Error
		newMsg := fn(msg.Error.Message)
		if newMsg != msg.Error.Message {
			changed = true
		}
		errCp.Message = newMsg
		errCp.Data = apply(msg.Error.Data)
		cp.Error = &errCp
	}
	if !changed {
		return msg, false
	}
	return &cp, true
}

func mapStrings(v any, fn func(string) string, changed *bool) any {
	switch t := v.(type) {
	case string:
		out := fn(t)
		if out != t {
			*changed = true
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = mapStrings(e, fn, changed)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = mapStrings(e, fn, changed)
		}
		return out
	default:
		return v
	}
}
