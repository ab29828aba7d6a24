package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Bridge reaches the wallet extension through a local HTTP bridge. It signs
// and summarizes; it never holds keys itself.
type Bridge struct {
	URL  string
	HTTP *http.Client
}

func NewBridge(url string) *Bridge {
	return &Bridge{URL: strings.TrimRight(url, "/"), HTTP: &http.Client{Timeout: time.Minute}}
}

var (
	_ Summarizer    = (*Bridge)(nil)
	_ Signer        = (*Bridge)(nil)
	_ MessageSigner = (*Bridge)(nil)
)

func (b *Bridge) post(ctx context.Context, path string, in, out interface{}) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return errors.Wrapf(err, "error encoding wallet %s request", path)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.URL+path, bytes.NewReader(raw))
	if err != nil {
		return errors.Wrapf(err, "error building wallet %s request", path)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.HTTP.Do(req)
	if err != nil {
		return errors.Wrapf(err, "error calling wallet %s", path)
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "error reading wallet %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("wallet %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(err, "error decoding wallet %s", path)
	}
	return nil
}

func (b *Bridge) Summarize(ctx context.Context, req SummaryRequest) (*Summary, error) {
	var res Summary
	err := b.post(ctx, "/summary", map[string]interface{}{
		"transactionLike": req.TransactionLike,
		"providerUrl":     req.ProviderURL,
		"configurable":    req.Configurable,
		"version":         req.Version,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (b *Bridge) Sign(ctx context.Context, account, txHash string) (string, error) {
	var res struct {
		Signature string `json:"signature"`
	}
	if err := b.post(ctx, "/sign", map[string]string{"account": account, "hash": txHash}, &res); err != nil {
		return "", err
	}
	return res.Signature, nil
}

func (b *Bridge) SignMessage(ctx context.Context, account, message string) (string, error) {
	var res struct {
		Signature string `json:"signature"`
	}
	if err := b.post(ctx, "/sign-message", map[string]string{"account": account, "message": message}, &res); err != nil {
		return "", err
	}
	return res.Signature, nil
}
