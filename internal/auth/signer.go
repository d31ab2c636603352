package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/nulpointcorp/qianfan-go/internal/transport"
)

// bce-auth-v1 timestamps are UTC ISO8601 with second precision.
const bceDateLayout = "2006-01-02T15:04:05Z"

// headers covered by the signature when present on the request.
var signableHeaders = map[string]bool{
	"host":           true,
	"content-type":   true,
	"content-md5":    true,
	"content-length": true,
}

// Sign attaches a bce-auth-v1 authorization header to req, computed over the
// method, path, query string and canonical headers. The x-bce-date and Host
// headers the signature covers are set on the request as a side effect.
func Sign(req *transport.Request, accessKey, secretKey string, expiration time.Duration) {
	SignAt(req, accessKey, secretKey, expiration, time.Now())
}

// SignAt is Sign with an explicit signing time.
func SignAt(req *transport.Request, accessKey, secretKey string, expiration time.Duration, now time.Time) {
	timestamp := now.UTC().Format(bceDateLayout)
	expireSec := int(expiration / time.Second)

	host := req.BaseURL
	if u, err := url.Parse(req.BaseURL); err == nil && u.Host != "" {
		host = u.Host
	}
	req.Headers.Set("Host", host)
	req.Headers.Set("x-bce-date", timestamp)

	prefix := fmt.Sprintf("bce-auth-v1/%s/%s/%d", accessKey, timestamp, expireSec)
	signingKey := hmacHex([]byte(secretKey), prefix)

	headerNames, headerBlock := canonicalHeaders(req.Headers)
	canonical := strings.Join([]string{
		req.Method,
		canonicalURI(req.Path),
		canonicalQuery(req.Query),
		headerBlock,
	}, "\n")
	signature := hmacHex([]byte(signingKey), canonical)

	req.Headers.Set("Authorization",
		fmt.Sprintf("%s/%s/%s", prefix, strings.Join(headerNames, ";"), signature))
}

func hmacHex(key []byte, msg string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalURI percent-encodes every path segment but keeps the slashes.
func canonicalURI(path string) string {
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = uriEncode(s)
	}
	return strings.Join(segments, "/")
}

// canonicalQuery encodes each parameter as key=value, drops the authorization
// parameter, sorts the encoded pairs and joins them with &.
func canonicalQuery(query url.Values) string {
	var pairs []string
	for key, values := range query {
		if strings.EqualFold(key, "authorization") {
			continue
		}
		for _, v := range values {
			pairs = append(pairs, uriEncode(key)+"="+uriEncode(v))
		}
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}

// canonicalHeaders returns the sorted signed-header names and the canonical
// header block. Host and x-bce-date are always covered; the other signable
// headers join when present.
func canonicalHeaders(headers map[string][]string) ([]string, string) {
	var names, lines []string
	for name, values := range headers {
		lower := strings.ToLower(name)
		if !signableHeaders[lower] && !strings.HasPrefix(lower, "x-bce-") {
			continue
		}
		if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
			continue
		}
		names = append(names, lower)
		lines = append(lines, lower+":"+uriEncode(strings.TrimSpace(values[0])))
	}
	sort.Strings(names)
	sort.Strings(lines)
	return names, strings.Join(lines, "\n")
}

// uriEncode is RFC 3986 percent-encoding with uppercase hex digits; the
// unreserved characters A-Z a-z 0-9 - _ . ~ pass through.
func uriEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
