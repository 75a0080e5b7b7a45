package caches

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Key derives the cache key for a GET of endpoint with params. Parameter
// order does not matter: keys are sorted before encoding, so two maps with
// the same pairs always produce the same key. A nil map is the empty map.
//
// The key has the form "<endpoint>-{<json object>}", e.g.
//
//	/boards/1-{"page":2,"q":"todo"}
func Key(endpoint string, params map[string]any) string {
	var b strings.Builder
	b.WriteString(endpoint)
	b.WriteString("-{")
	for i, k := range sortedKeys(params) {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		b.WriteString(encodeValue(params[k]))
	}
	b.WriteByte('}')

	return b.String()
}

// URL builds the request target for endpoint with params appended as a
// query string. Nil values are skipped. Endpoints that already carry a query
// are extended with '&'.
func URL(endpoint string, params map[string]any) string {
	q := url.Values{}
	for _, k := range sortedKeys(params) {
		v := params[k]
		if v == nil {
			continue
		}
		q.Set(k, fmt.Sprint(v))
	}

	encoded := q.Encode()
	if encoded == "" {
		return endpoint
	}
	if strings.Contains(endpoint, "?") {
		return endpoint + "&" + encoded
	}
	return endpoint + "?" + encoded
}

func sortedKeys(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// encodeValue never fails: values json cannot encode fall back to their
// quoted fmt representation.
func encodeValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return strconv.Quote(fmt.Sprint(v))
	}
	return string(b)
}
