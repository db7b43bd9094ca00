package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"
)

var (
	// ErrMissingAPIKey is returned when an explorer needs a key and none is
	// configured.
	ErrMissingAPIKey = errors.New("explorer api key is not configured")
	// ErrNoExplorer is returned for networks without a verification API.
	ErrNoExplorer = errors.New("network has no explorer api")
	// ErrVerificationFailed is returned when the explorer rejects a
	// submission or reports a failed compilation.
	ErrVerificationFailed = errors.New("verification failed")
	// ErrAlreadyVerified is returned by Submit when the explorer already
	// holds the source.
	ErrAlreadyVerified = errors.New("contract source already verified")
)

// EtherscanGenericResp is the envelope of every Etherscan API response.
type EtherscanGenericResp struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

func (r *EtherscanGenericResp) ok() bool {
	return r.Status == "1"
}

// SourceRequest is a standard-json-input verification submission.
type SourceRequest struct {
	Address         common.Address
	ContractName    string
	CompilerVersion string
	StandardJSON    []byte
	// ConstructorArgs is hex without the 0x prefix.
	ConstructorArgs string
}

// EtherscanClient talks to an Etherscan-compatible explorer API.
type EtherscanClient struct {
	apiKey     string
	url        string
	limiter    *rate.Limiter
	httpClient *http.Client
	// ChainID is sent as the chainid parameter when non-zero, for
	// multichain endpoints.
	ChainID int64
}

// NewEtherscanClient creates a client for the explorer API at apiURL.
func NewEtherscanClient(apiKey, apiURL string, limiter *rate.Limiter) *EtherscanClient {
	return &EtherscanClient{
		apiKey:     apiKey,
		url:        apiURL,
		limiter:    limiter,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// IsVerified reports whether the explorer already has source for address.
func (c *EtherscanClient) IsVerified(ctx context.Context, address common.Address) (bool, error) {
	params := c.params("getabi")
	params.Set("address", address.Hex())

	resp, err := c.do(ctx, http.MethodGet, params)
	if err != nil {
		return false, err
	}
	return resp.ok(), nil
}

// Submit uploads source for verification and returns the explorer's guid.
func (c *EtherscanClient) Submit(ctx context.Context, req SourceRequest) (string, error) {
	params := c.params("verifysourcecode")
	params.Set("contractaddress", req.Address.Hex())
	params.Set("sourceCode", string(req.StandardJSON))
	params.Set("codeformat", "solidity-standard-json-input")
	params.Set("contractname", req.ContractName)
	params.Set("compilerversion", req.CompilerVersion)
	// Etherscan's spelling.
	params.Set("constructorArguements", strings.TrimPrefix(req.ConstructorArgs, "0x"))

	resp, err := c.do(ctx, http.MethodPost, params)
	if err != nil {
		return "", err
	}
	if resp.ok() {
		return resp.Result, nil
	}
	if isAlreadyVerified(resp.Result) {
		return "", ErrAlreadyVerified
	}
	return "", fmt.Errorf("%w: %s: %s", ErrVerificationFailed, resp.Message, resp.Result)
}

// CheckStatus queries a submission. It returns done=false while the
// explorer is still processing it.
func (c *EtherscanClient) CheckStatus(ctx context.Context, guid string) (bool, error) {
	params := c.params("checkverifystatus")
	params.Set("guid", guid)

	resp, err := c.do(ctx, http.MethodGet, params)
	if err != nil {
		return false, err
	}

	switch {
	case resp.ok(), isAlreadyVerified(resp.Result):
		return true, nil
	case strings.Contains(strings.ToLower(resp.Result), "pending"):
		return false, nil
	}
	return false, fmt.Errorf("%w: %s", ErrVerificationFailed, resp.Result)
}

// WaitVerified polls CheckStatus until the submission resolves or timeout
// elapses.
func (c *EtherscanClient) WaitVerified(ctx context.Context, guid string, interval, timeout time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.MaxInterval = 4 * interval
	b.MaxElapsedTime = timeout

	return backoff.Retry(func() error {
		done, err := c.CheckStatus(ctx, guid)
		if err != nil {
			if errors.Is(err, ErrVerificationFailed) {
				return backoff.Permanent(err)
			}
			return err
		}
		if !done {
			return fmt.Errorf("verification %s still pending", guid)
		}
		return nil
	}, backoff.WithContext(b, ctx))
}

func (c *EtherscanClient) params(action string) url.Values {
	params := url.Values{}
	params.Set("module", "contract")
	params.Set("action", action)
	params.Set("apikey", c.apiKey)
	if c.ChainID != 0 {
		params.Set("chainid", strconv.FormatInt(c.ChainID, 10))
	}
	return params
}

func (c *EtherscanClient) do(ctx context.Context, method string, params url.Values) (*EtherscanGenericResp, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var (
		req *http.Request
		err error
	)
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, c.url, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.url+"?"+params.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", params.Get("action"), err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: http %d: %s", params.Get("action"), httpResp.StatusCode, string(body))
	}

	var resp EtherscanGenericResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", params.Get("action"), err)
	}
	return &resp, nil
}

func isAlreadyVerified(result string) bool {
	return strings.Contains(strings.ToLower(result), "already verified")
}
