package apiclient

import (
	"encoding/hex"
	"net/url"
	"path"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// fingerprint derives the de-duplication key for a request. Two requests get
// the same key when they share method, normalised URL, query parameters
// (order-insensitive) and bearer token.
func fingerprint(method, baseURL, reqPath string, query map[string]string, token string) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(normalizeURL(baseURL, reqPath, query))
	b.WriteByte('\n')
	if token != "" {
		sum := blake2b.Sum256([]byte(token))
		b.Write(sum[:])
	}
	sum := blake2b.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func normalizeURL(baseURL, reqPath string, query map[string]string) string {
	full := strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(reqPath, "/")
	u, err := url.Parse(full)
	if err != nil {
		return full + "?" + encodeSorted(nil, query)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path != "" {
		u.Path = path.Clean(u.Path)
	}
	u.Fragment = ""
	u.RawQuery = encodeSorted(u.Query(), query)
	return u.String()
}

func encodeSorted(values url.Values, extra map[string]string) string {
	merged := url.Values{}
	for k, vs := range values {
		for _, v := range vs {
			merged.Add(k, v)
		}
	}
	// Empty values never reach the wire (httpx.WithQuery drops them).
	for k, v := range extra {
		if v == "" {
			continue
		}
		merged.Set(k, v)
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		vs := append([]string(nil), merged[k]...)
		sort.Strings(vs)
		for _, v := range vs {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(parts, "&")
}
