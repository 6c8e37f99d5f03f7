package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/privacypay/privacypay/log"
)

// ErrRelayerRejected wraps a non-2xx relayer response; the message carries
// the relayer's own error text.
var ErrRelayerRejected = errors.New("relayer: request rejected")

// Client talks to a relayer service over HTTP.
type Client struct {
	baseURL string
	hc      *http.Client
	lg      *log.Logger
}

// NewClient creates a relayer client for the given base URL.
func NewClient(baseURL string, lg *log.Logger) *Client {
	if lg == nil {
		lg = log.Default()
	}
	return &Client{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: 30 * time.Second},
		lg:      lg.Module("relayer-client"),
	}
}

// SendEncryptedNote delivers a sealed payload and its paired on-chain spend.
// The returned hash is the relayer-submitted transaction; confirmation is
// still the caller's job.
func (c *Client) SendEncryptedNote(ctx context.Context, req SendEncryptedNoteRequest) (common.Hash, error) {
	var resp hashResponse
	if err := c.post(ctx, "/sendEncryptedNote", req, &resp); err != nil {
		return common.Hash{}, err
	}
	return resp.Hash, nil
}

// Unshield asks the relayer to release a note to a public balance.
func (c *Client) Unshield(ctx context.Context, req UnshieldRequest) (common.Hash, error) {
	var resp hashResponse
	if err := c.post(ctx, "/unshield", req, &resp); err != nil {
		return common.Hash{}, err
	}
	return resp.Hash, nil
}

// PrivateTransfer submits the legacy payload-less spend.
func (c *Client) PrivateTransfer(ctx context.Context, req PrivateTransferRequest) (common.Hash, error) {
	var resp hashResponse
	if err := c.post(ctx, "/privateTransfer", req, &resp); err != nil {
		return common.Hash{}, err
	}
	return resp.Hash, nil
}

// FetchEncryptedNotes drains the mailbox for owner. The read is destructive
// on the relayer side: entries returned here will not be returned again, so
// the caller must process and persist them before treating the drain as
// complete.
func (c *Client) FetchEncryptedNotes(ctx context.Context, owner common.Address) ([]EncryptedNote, error) {
	u := c.baseURL + "/getEncryptedNotes?userWalletAddress=" + url.QueryEscape(owner.Hex())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("relayer: building request: %w", err)
	}
	var resp notesResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return resp.Notes, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("relayer: encoding request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("relayer: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.do(httpReq, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("relayer: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("relayer: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("%w: %s", ErrRelayerRejected, e.Error)
		}
		return fmt.Errorf("%w: status %d", ErrRelayerRejected, resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("relayer: decoding response: %w", err)
	}
	return nil
}
