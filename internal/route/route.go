// Package route normalizes the addon's historical URL shapes into one
// canonical request tuple. Installed clients keep sending whatever path
// family their manifest was generated with, so every legacy spelling must map
// to the same tuple as its modern equivalent.
package route

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/kinoscope/companion/internal/stremio"
)

// Resource names the addon surface a request targets.
type Resource string

const (
	ResourceManifest Resource = "manifest"
	ResourceCatalog  Resource = "catalog"
)

// Request is the canonical tuple every accepted path shape normalizes to.
type Request struct {
	// Token is the encrypted configuration token from the path.
	Token string
	// Adult carries the explicit adult-content flag segment.
	Adult bool
	// Resource is manifest or catalog.
	Resource Resource
	// ContentType is set for split manifests and all catalog requests. It
	// is empty for the combined manifest.
	ContentType stremio.ContentType
	// Combined marks the manifest covering both content types.
	Combined bool
	// CatalogID identifies the requested catalog. Catalog requests only.
	CatalogID string
	// Skip is the pagination offset, zero when absent.
	Skip int
	// Search is the decoded free-text query, empty when absent.
	Search string
}

// ParseError reports a path that matched no accepted shape or carried an
// invalid segment. The request is rejected before any decode or cache work.
type ParseError struct {
	Path    string
	Segment string
	Reason  string
}

func (e *ParseError) Error() string {
	if e.Segment == "" {
		return fmt.Sprintf("route: %s: %q", e.Reason, e.Path)
	}
	return fmt.Sprintf("route: %s in segment %q: %q", e.Reason, e.Segment, e.Path)
}

// shape is an ordered segment pattern. Literal segments must match exactly;
// ":name" segments bind the path value under that name.
type shape []string

// shapes lists every accepted path family, modern spellings first. The
// ":extra" segment is the legacy duplicated-configuration segment some
// installed variants still send; it is validated and discarded. New legacy
// spellings are added as rows here, never as branches in the handlers.
var shapes = []shape{
	{"config", ":token", "adult", ":adult", "manifest"},
	{"config", ":token", "adult", ":adult", ":ctype", "manifest"},
	{"config", ":token", "adult", ":adult", "catalog", ":type", ":id"},
	{"config", ":token", "adult", ":adult", "catalog", ":type", ":id", ":param"},
	{"config", ":token", "adult", ":adult", ":extra", "catalog", ":type", ":id"},
	{"config", ":token", "adult", ":adult", ":extra", "catalog", ":type", ":id", ":param"},
}

func (s shape) match(parts []string) (map[string]string, bool) {
	if len(parts) != len(s) {
		return nil, false
	}
	binds := make(map[string]string, 5)
	for i, seg := range s {
		if strings.HasPrefix(seg, ":") {
			binds[seg[1:]] = parts[i]
			continue
		}
		if parts[i] != seg {
			return nil, false
		}
	}
	return binds, true
}

// Parse maps a request path onto the canonical tuple. Any malformed segment
// yields a *ParseError, never a partially filled Request.
func Parse(path string) (Request, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return Request{}, &ParseError{Path: path, Reason: "empty path"}
	}
	parts := strings.Split(trimmed, "/")

	last := parts[len(parts)-1]
	if !strings.HasSuffix(last, ".json") {
		return Request{}, &ParseError{Path: path, Segment: last, Reason: "missing .json suffix"}
	}
	parts[len(parts)-1] = strings.TrimSuffix(last, ".json")

	for _, s := range shapes {
		binds, ok := s.match(parts)
		if !ok {
			continue
		}
		return buildRequest(path, binds)
	}
	return Request{}, &ParseError{Path: path, Reason: "unrecognized path shape"}
}

func buildRequest(path string, binds map[string]string) (Request, error) {
	req := Request{Token: binds["token"]}
	if req.Token == "" {
		return Request{}, &ParseError{Path: path, Reason: "empty configuration token"}
	}

	switch binds["adult"] {
	case "true", "1":
		req.Adult = true
	case "false", "0":
		req.Adult = false
	default:
		return Request{}, &ParseError{Path: path, Segment: binds["adult"], Reason: "invalid adult flag"}
	}

	if extra, ok := binds["extra"]; ok {
		if extra == "" || strings.ContainsRune(extra, '=') {
			return Request{}, &ParseError{Path: path, Segment: extra, Reason: "invalid legacy segment"}
		}
	}

	if ctype, ok := binds["ctype"]; ok {
		ct, valid := stremio.ParseContentType(ctype)
		if !valid {
			return Request{}, &ParseError{Path: path, Segment: ctype, Reason: "unknown content type"}
		}
		req.Resource = ResourceManifest
		req.ContentType = ct
		return req, nil
	}

	if typeSeg, ok := binds["type"]; ok {
		ct, valid := stremio.ParseContentType(typeSeg)
		if !valid {
			return Request{}, &ParseError{Path: path, Segment: typeSeg, Reason: "unknown content type"}
		}
		req.Resource = ResourceCatalog
		req.ContentType = ct
		req.CatalogID = binds["id"]
		if req.CatalogID == "" || strings.ContainsRune(req.CatalogID, '=') {
			return Request{}, &ParseError{Path: path, Segment: binds["id"], Reason: "invalid catalog id"}
		}
		if param, ok := binds["param"]; ok {
			if err := applyParam(&req, path, param); err != nil {
				return Request{}, err
			}
		}
		return req, nil
	}

	req.Resource = ResourceManifest
	req.Combined = true
	return req, nil
}

// applyParam handles the trailing skip=N / search=Q segment.
func applyParam(req *Request, path, param string) error {
	switch {
	case strings.HasPrefix(param, "skip="):
		raw := strings.TrimPrefix(param, "skip=")
		skip, err := strconv.Atoi(raw)
		if err != nil || skip < 0 {
			return &ParseError{Path: path, Segment: param, Reason: "non-numeric skip"}
		}
		req.Skip = skip
	case strings.HasPrefix(param, "search="):
		raw := strings.TrimPrefix(param, "search=")
		decoded, err := url.PathUnescape(raw)
		if err != nil {
			return &ParseError{Path: path, Segment: param, Reason: "undecodable search text"}
		}
		decoded = strings.TrimSpace(decoded)
		if decoded == "" {
			return &ParseError{Path: path, Segment: param, Reason: "empty search text"}
		}
		req.Search = decoded
	default:
		return &ParseError{Path: path, Segment: param, Reason: "unknown catalog parameter"}
	}
	return nil
}
