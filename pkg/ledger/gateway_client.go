package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/release-registry/pkg/api"
)

// GatewayClient implements Service against a remote ledger node.
type GatewayClient struct {
	baseURL  string
	token    string
	clientID string
	http     *http.Client
	schemas  *responseSchemas
}

// NewGatewayClient creates a client for the ledger node at baseURL.
// clientID is sent as the caller identity; the node stamps it as publisher.
func NewGatewayClient(baseURL, token, clientID string, httpClient *http.Client) (*GatewayClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("ledger gateway URL is required")
	}
	schemas, err := compileResponseSchemas()
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &GatewayClient{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		token:    token,
		clientID: clientID,
		http:     httpClient,
		schemas:  schemas,
	}, nil
}

func releasePath(packageID, version string) string {
	return "/ledger/v1/releases/" + url.PathEscape(packageID) + "/" + url.PathEscape(version)
}

func (g *GatewayClient) do(ctx context.Context, method, path string, body interface{}) (int, []byte, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("ledger request encode failed: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, rdr)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	if id, ok := CallerFrom(ctx); ok {
		req.Header.Set(ClientHeader, id)
	} else if g.clientID != "" {
		req.Header.Set(ClientHeader, g.clientID)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("ledger gateway %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("ledger gateway read failed: %w", err)
	}
	return resp.StatusCode, data, nil
}

// statusError maps a non-2xx gateway response onto the ledger sentinels.
func statusError(status int, body []byte) error {
	p := api.ParseProblem(status, body)
	switch {
	case status == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrAlreadyExists, p.Detail)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, p.Detail)
	case status == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, p.Detail)
	case p.Code == "REVISION_CONFLICT":
		return fmt.Errorf("%w: %s", ErrRevisionConflict, p.Detail)
	default:
		return fmt.Errorf("ledger gateway: %w", p)
	}
}

func (g *GatewayClient) expect(ctx context.Context, method, path string, body interface{}, want int, schema *jsonschema.Schema, dst interface{}) error {
	status, data, err := g.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	if status != want {
		return statusError(status, data)
	}
	return decodeChecked(schema, data, dst)
}

func (g *GatewayClient) Publish(ctx context.Context, packageID, version, contentHash string) (*Release, error) {
	var rel Release
	req := publishRequest{PackageID: packageID, Version: version, ContentHash: contentHash}
	if err := g.expect(ctx, http.MethodPost, "/ledger/v1/releases", req, http.StatusCreated, g.schemas.release, &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

func (g *GatewayClient) Get(ctx context.Context, packageID, version string) (*Release, error) {
	var rel Release
	if err := g.expect(ctx, http.MethodGet, releasePath(packageID, version), nil, http.StatusOK, g.schemas.release, &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

func (g *GatewayClient) Validate(ctx context.Context, packageID, version, contentHash string) (bool, error) {
	var out validateResponse
	path := releasePath(packageID, version) + "/validate"
	if err := g.expect(ctx, http.MethodPost, path, validateRequest{ContentHash: contentHash}, http.StatusOK, g.schemas.validate, &out); err != nil {
		return false, err
	}
	return out.Valid, nil
}

func (g *GatewayClient) Discontinue(ctx context.Context, packageID, version string) (*Release, error) {
	var rel Release
	path := releasePath(packageID, version) + "/discontinue"
	if err := g.expect(ctx, http.MethodPost, path, nil, http.StatusOK, g.schemas.release, &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

func (g *GatewayClient) List(ctx context.Context, packageID string) ([]*Release, error) {
	var out listResponse
	path := "/ledger/v1/releases/" + url.PathEscape(packageID)
	if err := g.expect(ctx, http.MethodGet, path, nil, http.StatusOK, g.schemas.list, &out); err != nil {
		return nil, err
	}
	return out.Releases, nil
}

func (g *GatewayClient) History(ctx context.Context, packageID, version string) ([]Entry, error) {
	var out historyResponse
	path := releasePath(packageID, version) + "/history"
	if err := g.expect(ctx, http.MethodGet, path, nil, http.StatusOK, g.schemas.history, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}
