package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/gowebpki/jcs"

	"github.com/feral-file/ff-marketplace-indexer/internal/domain"
)

// Attribute is one trait of a token. Values may be strings or numbers in the
// source document; both are kept as their string form.
type Attribute struct {
	TraitType string
	Value     string
}

// TokenMetadata is the normalized subset of an ERC721 metadata document
type TokenMetadata struct {
	Name        string
	Description string
	Image       string
	Attributes  []Attribute
	// Raw is the document as resolved, nil for placeholders
	Raw json.RawMessage
}

// Hash returns the hex sha256 of the JCS-canonical raw document, or "" when
// there is no raw document
func (m *TokenMetadata) Hash() (string, error) {
	if len(m.Raw) == 0 {
		return "", nil
	}

	canonical, err := jcs.Transform(m.Raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize metadata: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Result is the outcome of a resolution. Err is set when resolution or
// parsing failed, in which case Metadata holds the placeholder.
type Result struct {
	Metadata *TokenMetadata
	URI      string
	Err      error
}

// OK reports whether real metadata was resolved
func (r Result) OK() bool {
	return r.Err == nil
}

// Placeholder is the deterministic stand-in used whenever metadata cannot be resolved
func Placeholder(tokenID *big.Int) *TokenMetadata {
	return &TokenMetadata{
		Name: fmt.Sprintf("NFT #%s", tokenID.String()),
	}
}

type document struct {
	Name        *string         `json:"name"`
	Description string          `json:"description"`
	Image       string          `json:"image"`
	ImageURL    string          `json:"image_url"`
	Attributes  json.RawMessage `json:"attributes"`
}

type rawAttribute struct {
	TraitType json.RawMessage `json:"trait_type"`
	Value     json.RawMessage `json:"value"`
}

// Parse normalizes a metadata document. A missing name falls back to the
// placeholder name; malformed attribute entries are skipped. NUL characters
// are stripped from every extracted string.
func Parse(data []byte, tokenID *big.Int) (*TokenMetadata, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	md := &TokenMetadata{
		Description: domain.SanitizeText(doc.Description),
		Image:       domain.SanitizeText(doc.Image),
		Raw:         append(json.RawMessage(nil), data...),
	}
	if md.Image == "" {
		md.Image = domain.SanitizeText(doc.ImageURL)
	}
	if name := domain.SanitizeText(derefString(doc.Name)); strings.TrimSpace(name) != "" {
		md.Name = name
	} else {
		md.Name = Placeholder(tokenID).Name
	}

	md.Attributes = parseAttributes(doc.Attributes)
	return md, nil
}

func parseAttributes(raw json.RawMessage) []Attribute {
	if len(raw) == 0 {
		return nil
	}

	var entries []rawAttribute
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}

	attrs := make([]Attribute, 0, len(entries))
	for _, e := range entries {
		traitType, ok := scalarString(e.TraitType)
		traitType = domain.SanitizeText(traitType)
		if !ok || traitType == "" {
			continue
		}
		value, ok := scalarString(e.Value)
		if !ok {
			continue
		}
		attrs = append(attrs, Attribute{TraitType: traitType, Value: domain.SanitizeText(value)})
	}
	return attrs
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// scalarString renders a JSON string, number or bool as a string
func scalarString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b), true
	}

	return "", false
}
