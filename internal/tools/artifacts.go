package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"agenthive/internal/artifact"
)

// Fetcher retrieves an external resource for batch fetching. Tests inject a
// fake; the default uses net/http with a bounded timeout.
type Fetcher func(ctx context.Context, url string) (contentType string, body []byte, err error)

// maxFetchBytes bounds a single fetched resource.
const maxFetchBytes = 16 << 20

// DefaultFetcher performs a plain GET with a 30s ceiling.
func DefaultFetcher(ctx context.Context, url string) (string, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", nil, err
	}
	return resp.Header.Get("Content-Type"), body, nil
}

// ArtifactsModule exposes artifact storage and batched resource fetching.
type ArtifactsModule struct {
	fetch Fetcher
}

// NewArtifactsModule creates the artifacts module. A nil fetcher falls back
// to DefaultFetcher.
func NewArtifactsModule(fetch Fetcher) *ArtifactsModule {
	if fetch == nil {
		fetch = DefaultFetcher
	}
	return &ArtifactsModule{fetch: fetch}
}

func (m *ArtifactsModule) Group() string { return GroupArtifacts }

func (m *ArtifactsModule) Definitions() []Definition {
	return []Definition{
		{
			Name:        "artifact_put",
			Description: "Store a typed payload and get back its reference id.",
			Schema: Schema{
				Required: []string{"type", "content"},
				Properties: map[string]Property{
					"type":    {Type: "string", Description: "Artifact type (json, text, binary, image)"},
					"content": {Type: "string", Description: "Payload content"},
					"meta":    {Type: "object", Description: "Free-form key/value metadata"},
				},
			},
		},
		{
			Name:        "artifact_get",
			Description: "Retrieve a stored artifact by id.",
			Schema: Schema{
				Required: []string{"id"},
				Properties: map[string]Property{
					"id": {Type: "string", Description: "Artifact id"},
				},
			},
		},
		{
			Name:        "fetch_batch",
			Description: "Fetch several resources. Items fail independently; the call reports per-item outcomes and never fails as a whole.",
			Schema: Schema{
				Required: []string{"urls"},
				Properties: map[string]Property{
					"urls": {Type: "array", Description: "Resource URLs to fetch", Items: &PropertyItems{Type: "string"}},
				},
			},
		},
	}
}

func (m *ArtifactsModule) Execute(ctx context.Context, call CallContext, name string, args map[string]any) (any, error) {
	switch name {
	case "artifact_put":
		return m.put(call, args)
	case "artifact_get":
		return m.get(call, args)
	case "fetch_batch":
		return m.fetchBatch(ctx, call, args)
	default:
		return nil, Validation("unknown_tool", "artifacts module has no tool %q", name)
	}
}

func (m *ArtifactsModule) put(call CallContext, args map[string]any) (any, error) {
	typ, err := RequireString(args, "type")
	if err != nil {
		return nil, err
	}
	content, err := RequireString(args, "content")
	if err != nil {
		return nil, err
	}

	var meta map[string]string
	if raw := OptMap(args, "meta"); raw != nil {
		meta = make(map[string]string, len(raw))
		for k, v := range raw {
			meta[k] = fmt.Sprintf("%v", v)
		}
	}

	ref, err := call.Artifacts.Put(typ, []byte(content), meta)
	if err != nil {
		return nil, Runtime("put_failed", "%v", err)
	}
	return map[string]any{"ok": true, "id": ref.ID}, nil
}

func (m *ArtifactsModule) get(call CallContext, args map[string]any) (any, error) {
	id, err := RequireString(args, "id")
	if err != nil {
		return nil, err
	}

	a, err := call.Artifacts.Get(artifact.Ref{ID: id})
	if err != nil {
		if errors.Is(err, artifact.ErrArtifactNotFound) {
			return nil, TargetNotFound("artifact_not_found", "%v", err)
		}
		return nil, Runtime("get_failed", "%v", err)
	}
	return map[string]any{
		"ok":      true,
		"type":    a.Type,
		"content": string(a.Content),
		"meta":    a.Meta,
	}, nil
}

func (m *ArtifactsModule) fetchBatch(ctx context.Context, call CallContext, args map[string]any) (any, error) {
	urls := OptStringSlice(args, "urls")
	if len(urls) == 0 {
		return nil, Validation("missing_argument", "urls must be a non-empty array of strings")
	}

	res := RunBatch(call.Artifacts, len(urls), "", func(i int, reservedID string) (any, error) {
		contentType, body, err := m.fetch(ctx, urls[i])
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", urls[i], err)
		}
		typ := artifact.TypeBinary
		if contentType != "" {
			typ = contentType
		}
		if err := call.Artifacts.Complete(reservedID, typ, body); err != nil {
			return nil, err
		}
		return map[string]any{
			"url":         urls[i],
			"artifact_id": reservedID,
			"size":        len(body),
		}, nil
	})
	return res, nil
}
