package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Verifier checks a CAPTCHA response before registration proceeds.
type Verifier interface {
	Verify(ctx context.Context, response, remoteIP string) (bool, error)
}

// NopVerifier accepts everything; used when no provider is configured.
type NopVerifier struct{}

func (NopVerifier) Verify(ctx context.Context, response, remoteIP string) (bool, error) {
	return true, nil
}

// RemoteVerifier posts the response to a reCAPTCHA-style siteverify endpoint
// and trusts its boolean success field.
type RemoteVerifier struct {
	secret   string
	endpoint string
	client   *http.Client
}

func NewRemoteVerifier(secret, endpoint string) *RemoteVerifier {
	return &RemoteVerifier{
		secret:   secret,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (v *RemoteVerifier) Verify(ctx context.Context, response, remoteIP string) (bool, error) {
	if strings.TrimSpace(response) == "" {
		return false, nil
	}

	form := url.Values{
		"secret":   {v.secret},
		"response": {response},
	}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("captcha verify: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, err
	}
	return body.Success, nil
}
