package metadata

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/feral-file/ff-marketplace-indexer/internal/adapter"
)

// decodeDataURI returns the payload of an RFC 2397 data URI carrying a JSON
// document. Both plain (percent-encoded) and base64 payloads are accepted.
func decodeDataURI(uri string, b64 adapter.Base64) ([]byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, fmt.Errorf("not a data URI")
	}

	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("invalid data URI: missing comma")
	}

	params := strings.Split(header, ";")
	mediaType := strings.ToLower(strings.TrimSpace(params[0]))
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}

	if mediaType != "" && mediaType != "application/json" && !strings.HasPrefix(mediaType, "text/") {
		return nil, fmt.Errorf("unsupported data URI media type %q", mediaType)
	}

	var data []byte
	if isBase64 {
		decoded, err := b64.Decode(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 payload: %w", err)
		}
		data = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			// Many contracts emit raw JSON with stray '%' characters
			unescaped = payload
		}
		data = []byte(unescaped)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("invalid data URI: empty payload")
	}

	// Decoded payload must actually be JSON or text, whatever the header says
	detected := mimetype.Detect(data)
	if !isTextual(detected) {
		return nil, fmt.Errorf("data URI payload detected as %s", detected.String())
	}

	return data, nil
}

func isTextual(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("application/json") || m.Is("text/plain") {
			return true
		}
	}
	return false
}
