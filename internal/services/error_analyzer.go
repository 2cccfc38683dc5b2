package services

import (
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/labsage/backend/internal/models"
	"golang.org/x/crypto/blake2b"
)

type signaturePattern struct {
	name    string
	pattern *regexp.Regexp
}

// Ordered: the first matching pattern names the signature.
var signaturePatterns = []signaturePattern{
	{"Out Of Memory", regexp.MustCompile(`(?i)out of memory|oom[- ]?kill|cannot allocate memory|java\.lang\.OutOfMemoryError`)},
	{"Panic", regexp.MustCompile(`(?i)\bpanic:|goroutine \d+ \[running\]`)},
	{"Segmentation Fault", regexp.MustCompile(`(?i)segmentation fault|sigsegv|core dumped`)},
	{"Unhandled Exception", regexp.MustCompile(`Traceback \(most recent call last\)|Unhandled exception|uncaughtException|\bException in thread\b`)},
	{"Disk Full", regexp.MustCompile(`(?i)no space left on device|disk (is )?full`)},
	{"Connection Refused", regexp.MustCompile(`(?i)connection refused|econnrefused`)},
	{"Connection Timeout", regexp.MustCompile(`(?i)connection.*time[d]? ?out|timed out.*connect|dial tcp.*i/o timeout`)},
	{"DNS Resolution Error", regexp.MustCompile(`(?i)no such host|name or service not known|temporary failure in name resolution`)},
	{"Authentication Error", regexp.MustCompile(`(?i)authentication failed|unauthorized|invalid credentials|\bstatus(?:[ _]?code)?[=: ]+401\b|HTTP/\d(?:\.\d)?"? 401\b`)},
	{"Permission/Access Error", regexp.MustCompile(`(?i)permission denied|access denied|forbidden|\bEACCES\b`)},
	{"Database Error", regexp.MustCompile(`(?i)(database|postgres|mysql|sqlite|sql).*(error|fail)|deadlock detected|too many connections`)},
	{"TLS Error", regexp.MustCompile(`(?i)x509:|tls: |certificate (has )?expired|handshake failure`)},
	{"Timeout Error", regexp.MustCompile(`(?i)\btime(d)? ?out\b|deadline exceeded`)},
	{"Fatal Error", regexp.MustCompile(`(?i)\b(fatal|critical|emerg(ency)?)\b`)},
	{"General Error", regexp.MustCompile(`(?i)\b(error|err|failed|failure)\b`)},
}

var levelPatterns = []struct {
	level   models.LogLevel
	pattern *regexp.Regexp
}{
	{models.LogLevelFatal, regexp.MustCompile(`(?i)\b(fatal|panic|critical|crit|emerg)\b`)},
	{models.LogLevelError, regexp.MustCompile(`(?i)\b(error|err|exception)\b|level=error`)},
	{models.LogLevelWarning, regexp.MustCompile(`(?i)\b(warn|warning)\b|level=warn`)},
	{models.LogLevelDebug, regexp.MustCompile(`(?i)\b(debug|trace)\b|level=debug`)},
}

var (
	uuidPattern   = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	hexPattern    = regexp.MustCompile(`(?i)\b(0x)?[0-9a-f]{8,}\b`)
	numberPattern = regexp.MustCompile(`\d+`)
	spacePattern  = regexp.MustCompile(`\s+`)
	tsPrefix      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?\s*`)
)

// DetectedSignature is one distinct error found in a batch of log lines.
type DetectedSignature struct {
	Signature   string
	Message     string
	Fingerprint string
	LogSource   models.LogSource
	Level       models.LogLevel
	OccurredAt  time.Time
	Count       int
}

// ErrorAnalyzer finds error signatures in log lines with regular expressions.
type ErrorAnalyzer struct{}

func NewErrorAnalyzer() *ErrorAnalyzer {
	return &ErrorAnalyzer{}
}

// DetectLevel infers a level from the message text. Unmarked lines are INFO.
func (a *ErrorAnalyzer) DetectLevel(message string) models.LogLevel {
	for _, lp := range levelPatterns {
		if lp.pattern.MatchString(message) {
			return lp.level
		}
	}
	return models.LogLevelInfo
}

// Classify returns the signature name for message, or "" if it is not an error.
func (a *ErrorAnalyzer) Classify(message string) string {
	for _, sp := range signaturePatterns {
		if sp.pattern.MatchString(message) {
			return sp.name
		}
	}
	return ""
}

// Analyze returns one signature per distinct fingerprint, first occurrence
// first. Only ERROR and FATAL lines, or lines matching a specific pattern, count.
func (a *ErrorAnalyzer) Analyze(entries []models.LogEntry) []DetectedSignature {
	var out []DetectedSignature
	index := make(map[string]int)

	for _, entry := range entries {
		name := a.Classify(entry.Content)
		if name == "" {
			continue
		}
		if name == "General Error" && entry.Level != models.LogLevelError && entry.Level != models.LogLevelFatal {
			continue
		}

		fp := Fingerprint(name, entry.Content)
		if i, ok := index[fp]; ok {
			out[i].Count++
			continue
		}
		index[fp] = len(out)
		out = append(out, DetectedSignature{
			Signature:   name,
			Message:     truncate(strings.TrimSpace(entry.Content), 1000),
			Fingerprint: fp,
			LogSource:   entry.LogSource,
			Level:       entry.Level,
			OccurredAt:  entry.Timestamp,
			Count:       1,
		})
	}
	return out
}

// NormalizeMessage collapses the variable parts of a log message (timestamps,
// ids, numbers) so repeated occurrences compare equal.
func NormalizeMessage(message string) string {
	m := strings.TrimSpace(message)
	m = tsPrefix.ReplaceAllString(m, "")
	m = uuidPattern.ReplaceAllString(m, "<uuid>")
	m = hexPattern.ReplaceAllString(m, "<hex>")
	m = numberPattern.ReplaceAllString(m, "#")
	m = spacePattern.ReplaceAllString(m, " ")
	return strings.ToLower(m)
}

// Fingerprint is the blake2b-256 digest of signature and normalized message.
func Fingerprint(signature, message string) string {
	sum := blake2b.Sum256([]byte(signature + "\x00" + NormalizeMessage(message)))
	return hex.EncodeToString(sum[:])
}
