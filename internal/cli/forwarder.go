package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	relay "github.com/offlinekit/relay"
)

// forwardRequest is the wire shape relayd posts to the remote endpoint.
type forwardRequest struct {
	TransactionID string            `json:"transactionId"`
	Mutations     []forwardMutation `json:"mutations"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
}

type forwardMutation struct {
	GlobalKey    string         `json:"globalKey"`
	Type         string         `json:"type"`
	Modified     map[string]any `json:"modified,omitempty"`
	Original     map[string]any `json:"original,omitempty"`
	CollectionID string         `json:"collectionId"`
}

// newForwarder builds the daemon's mutation function: it POSTs the
// transaction to url with the idempotency key in a header.
//
// A 4xx response is a permanent rejection; 5xx and transport errors are
// retried by the executor.
func newForwarder(url string, client *http.Client) relay.MutationFn {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, req relay.MutationRequest) (any, error) {
		payload := forwardRequest{
			TransactionID: req.Transaction.ID,
			Mutations:     make([]forwardMutation, len(req.Transaction.Mutations)),
			Metadata:      req.Transaction.Metadata,
		}
		for i, m := range req.Transaction.Mutations {
			payload.Mutations[i] = forwardMutation{
				GlobalKey:    m.GlobalKey,
				Type:         string(m.Type),
				Modified:     m.Modified,
				Original:     m.Original,
				CollectionID: m.CollectionID,
			}
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, relay.NonRetriable(fmt.Errorf("encode forward payload: %w", err))
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, relay.NonRetriable(fmt.Errorf("build forward request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

		resp, err := client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("forward transaction: %w", err)
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			var result any
			if len(respBody) > 0 {
				if err := json.Unmarshal(respBody, &result); err != nil {
					// Non-JSON success bodies are passed through raw.
					result = string(respBody)
				}
			}
			return result, nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return nil, relay.NonRetriablef("remote rejected transaction: %s: %s",
				resp.Status, string(respBody))
		default:
			return nil, fmt.Errorf("remote unavailable: %s", resp.Status)
		}
	}
}
