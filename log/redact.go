package log

import (
	"io"
	"net/url"
	"regexp"
	"strings"
	"sync"
)

// sgxKeyPattern matches SGX key names as issued by the signer enclave.
var sgxKeyPattern = regexp.MustCompile(`NEK:\w+`)

const (
	sgxKeyToken = "[SGX_KEY]"
	hostToken   = "[HOST]"
)

var (
	redactMu    sync.RWMutex
	redactHosts []string
)

// HideHost registers the host part of rawURL for redaction. Every
// occurrence of the host in a log line is replaced with a stable token.
// Invalid or empty URLs are ignored.
func HideHost(rawURL string) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return
	}
	redactMu.Lock()
	redactHosts = append(redactHosts, u.Hostname())
	redactMu.Unlock()
}

// Redact applies the redaction rules to s and returns the result. Exposed
// so error messages can be scrubbed before being stored in tx records.
func Redact(s string) string {
	s = sgxKeyPattern.ReplaceAllString(s, sgxKeyToken)
	redactMu.RLock()
	hosts := redactHosts
	redactMu.RUnlock()
	for _, h := range hosts {
		s = strings.ReplaceAll(s, h, hostToken)
	}
	return s
}

// redactWriter scrubs credentials from formatted log lines before they
// reach the underlying output.
type redactWriter struct {
	w io.Writer
}

func (rw *redactWriter) Write(p []byte) (int, error) {
	clean := Redact(string(p))
	if _, err := rw.w.Write([]byte(clean)); err != nil {
		return 0, err
	}
	// Report the original length: the caller must not see a short write
	// when redaction changed the line size.
	return len(p), nil
}
