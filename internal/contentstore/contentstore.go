// Package contentstore talks to a content-addressable storage gateway.
// Content is identified by the reference the gateway derives from the bytes,
// so the same bytes always map to the same reference.
package contentstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/landgrid/registry/internal/adapter"
)

// refPattern accepts v0 references (Qm + 44 base58 chars) and v1 references
// (baf + base32)
var refPattern = regexp.MustCompile(`^(Qm[1-9A-HJ-NP-Za-km-z]{44}|baf[a-z2-7]{20,})$`)

// ValidRef reports whether ref looks like a content-addressable reference
func ValidRef(ref string) bool {
	return refPattern.MatchString(ref)
}

// Gateway defines the operations the registry needs from the content store
//
//go:generate mockgen -source=contentstore.go -destination=../mocks/contentstore.go -package=mocks -mock_names=Gateway=MockGateway
type Gateway interface {
	// Pin uploads content and returns its content-addressable reference
	Pin(ctx context.Context, fileName string, content []byte) (string, error)
	// PinByRef asks the gateway to pin already-known content by reference
	PinByRef(ctx context.Context, ref string) error
	// Fetch downloads the content behind a reference
	Fetch(ctx context.Context, ref string) ([]byte, error)
	// Unpin releases a reference. Unpinning an unknown reference is not an error.
	Unpin(ctx context.Context, ref string) error
}

// Config holds gateway connection settings
type Config struct {
	APIURL     string
	GatewayURL string
	APIKey     string
	APISecret  string
	Timeout    time.Duration
}

type pinataGateway struct {
	cfg  Config
	http adapter.HTTPClient
}

// NewPinataGateway creates a Gateway backed by a Pinata-compatible pinning API
func NewPinataGateway(cfg Config, httpClient adapter.HTTPClient) Gateway {
	return &pinataGateway{cfg: cfg, http: httpClient}
}

func (g *pinataGateway) authHeaders() map[string]string {
	return map[string]string{
		"pinata_api_key":        g.cfg.APIKey,
		"pinata_secret_api_key": g.cfg.APISecret,
	}
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

// Pin uploads content via the pinFileToIPFS endpoint
func (g *pinataGateway) Pin(ctx context.Context, fileName string, content []byte) (string, error) {
	url := g.cfg.APIURL + "/pinning/pinFileToIPFS"
	body, err := g.http.PostMultipart(ctx, url, "file", fileName, content, nil, g.authHeaders())
	if err != nil {
		return "", fmt.Errorf("failed to pin content: %w", err)
	}

	var resp pinResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode pin response: %w", err)
	}
	if !ValidRef(resp.IpfsHash) {
		return "", fmt.Errorf("gateway returned malformed reference %q", resp.IpfsHash)
	}
	return resp.IpfsHash, nil
}

// PinByRef asks the gateway to pin already-known content by reference
func (g *pinataGateway) PinByRef(ctx context.Context, ref string) error {
	if !ValidRef(ref) {
		return fmt.Errorf("malformed content reference %q", ref)
	}
	payload, err := json.Marshal(map[string]string{"hashToPin": ref})
	if err != nil {
		return err
	}
	url := g.cfg.APIURL + "/pinning/pinByHash"
	if _, err := g.http.PostJSON(ctx, url, payload, g.authHeaders()); err != nil {
		return fmt.Errorf("failed to pin by reference: %w", err)
	}
	return nil
}

// Fetch downloads the content behind a reference via the public gateway
func (g *pinataGateway) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if !ValidRef(ref) {
		return nil, fmt.Errorf("malformed content reference %q", ref)
	}
	url := g.cfg.GatewayURL + "/ipfs/" + ref
	content, err := g.http.GetBytes(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch content: %w", err)
	}
	return content, nil
}

// Unpin releases a reference
func (g *pinataGateway) Unpin(ctx context.Context, ref string) error {
	if !ValidRef(ref) {
		return fmt.Errorf("malformed content reference %q", ref)
	}
	url := g.cfg.APIURL + "/pinning/unpin/" + ref
	if _, err := g.http.Delete(ctx, url, g.authHeaders()); err != nil {
		return fmt.Errorf("failed to unpin content: %w", err)
	}
	return nil
}
