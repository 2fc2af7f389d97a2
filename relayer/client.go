package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// ErrRelay marks a relay request that was not accepted, either because the
// endpoint was unreachable or because it answered with a non-2xx status.
var ErrRelay = errors.New("relay request failed")

const maxErrorBodyBytes = 512

// Request is the payload handed to the external relayer service.
type Request struct {
	TransactionID string `json:"transactionId"`
	SourceTxHash  string `json:"sourceTxHash"`
	Amount        string `json:"amount"`
	Sender        string `json:"sender"`
	Recipient     string `json:"recipient"`
	SourceChainID uint64 `json:"sourceChainId"`
}

// Client issues the outbound relay call. One call is one attempt; the
// listener owns the retry budget.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Relay posts the request to the relayer endpoint. Any 2xx response counts as
// accepted; the response body is opaque.
func (c *Client) Relay(ctx context.Context, req *Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errors.Wrapf(ErrRelay, "tx %s: %v", req.TransactionID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return errors.Wrapf(ErrRelay, "tx %s: status %d: %s", req.TransactionID, resp.StatusCode, snippet)
	}

	return nil
}
