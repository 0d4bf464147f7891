// Package usps checks parcel addresses against the USPS Address API v3.
// Carriers flag an address vacant after 90+ days of uncollected mail,
// which makes the vacant bit the strongest single distress signal we
// have. The API allows 60 requests per hour per consumer key, so each
// credential gets its own governor and requests go out with jittered
// spacing.
package usps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/keystone-reo/distress-scanner/internal/config"
	"github.com/keystone-reo/distress-scanner/internal/govern"
)

// Check is the outcome of one address lookup. Pointer fields are nil when
// the response did not carry the flag.
type Check struct {
	Vacant       *bool
	DPVConfirmed *bool
	Business     *bool
	CarrierRoute *string
	Address      *string
	City         *string
	State        *string
	Zip          *string
	Zip4         *string
	Mismatch     bool
	Raw          json.RawMessage
	Err          string
}

// pacer is the governor surface the client needs.
type pacer interface {
	Wait(context.Context) error
	RateLimited(context.Context, time.Duration) error
	Success()
}

// Client is one credential's view of the address API.
type Client struct {
	account    int
	addressURL string
	http       *http.Client
	gov        pacer
	requests   int
}

// NewClient builds a client for one credential. The token source refreshes
// a minute before expiry so a request never goes out with a token that
// dies in flight.
func NewClient(cfg config.USPSConfig, cred config.Credential, gov *govern.Governor) *Client {
	cc := clientcredentials.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	ts := oauth2.ReuseTokenSourceWithExpiry(nil, cc.TokenSource(context.Background()), time.Minute)
	httpClient := oauth2.NewClient(context.Background(), ts)
	httpClient.Timeout = 30 * time.Second

	return &Client{
		account:    cred.Index,
		addressURL: cfg.AddressURL,
		http:       httpClient,
		gov:        gov,
	}
}

// Account is the 1-based credential index this client runs on.
func (c *Client) Account() int { return c.account }

// Requests is how many address lookups this client has sent.
func (c *Client) Requests() int { return c.requests }

type addressResponse struct {
	Address struct {
		StreetAddress string `json:"streetAddress"`
		City          string `json:"city"`
		State         string `json:"state"`
		ZIPCode       string `json:"ZIPCode"`
		ZIPPlus4      string `json:"ZIPPlus4"`
	} `json:"address"`
	AdditionalInfo struct {
		Vacant          string `json:"vacant"`
		DPVConfirmation string `json:"DPVConfirmation"`
		Business        string `json:"business"`
		CarrierRoute    string `json:"carrierRoute"`
	} `json:"additionalInfo"`
}

// CheckAddress looks up one address. The governor paces the request; a 429
// sleeps out the backoff here and comes back as Err "rate_limited" so the
// caller can re-queue the row. Needs city+state or zip.
func (c *Client) CheckAddress(ctx context.Context, street, city, state, zip string) Check {
	if err := c.gov.Wait(ctx); err != nil {
		return Check{Err: "canceled"}
	}

	q := url.Values{"streetAddress": {street}}
	if city != "" {
		q.Set("city", city)
	}
	if state != "" {
		q.Set("state", state)
	}
	if zip != "" {
		q.Set("ZIPCode", zip)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.addressURL+"?"+q.Encode(), nil)
	if err != nil {
		return Check{Err: fmt.Sprintf("request_build: %v", err)}
	}

	resp, err := c.http.Do(req)
	c.requests++
	if err != nil {
		log.Printf("[USPS] account %d request failed for %q: %v", c.account, street, err)
		return Check{Err: "request_failed"}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		io.Copy(io.Discard, resp.Body)
		if err := c.gov.RateLimited(ctx, retryAfter); err != nil {
			return Check{Err: "canceled"}
		}
		return Check{Err: "rate_limited"}
	}
	c.gov.Success()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[USPS] account %d got %d for %q", c.account, resp.StatusCode, street)
		return Check{Err: fmt.Sprintf("http_%d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Check{Err: "request_failed"}
	}
	var parsed addressResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Check{Err: "bad_response"}
	}

	info := parsed.AdditionalInfo
	addr := parsed.Address

	out := Check{
		Vacant:       ynFlag(info.Vacant),
		DPVConfirmed: dpvFlag(info.DPVConfirmation),
		Business:     ynFlag(info.Business),
		Mismatch:     detectMismatch(street, addr.StreetAddress),
		Raw:          json.RawMessage(body),
	}
	out.CarrierRoute = optStr(info.CarrierRoute)
	out.Address = optStr(addr.StreetAddress)
	out.City = optStr(addr.City)
	out.State = optStr(addr.State)
	out.Zip = optStr(addr.ZIPCode)
	out.Zip4 = optStr(addr.ZIPPlus4)
	return out
}

// ynFlag maps a Y/N field to a bool, nil when absent or anything else.
func ynFlag(v string) *bool {
	switch v {
	case "Y":
		t := true
		return &t
	case "N":
		f := false
		return &f
	default:
		return nil
	}
}

// dpvFlag maps DPVConfirmation. Y means confirmed; N, S (secondary
// missing) and D (secondary invalid) are all unconfirmed; anything else is
// unknown.
func dpvFlag(v string) *bool {
	switch v {
	case "Y":
		t := true
		return &t
	case "N", "S", "D":
		f := false
		return &f
	default:
		return nil
	}
}

func optStr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// detectMismatch reports whether the standardized address is meaningfully
// different from the input. Containment either way, or a shared house
// number, counts as just formatting.
func detectMismatch(input, standardized string) bool {
	if standardized == "" {
		return false
	}
	a := strings.Join(strings.Fields(strings.ToUpper(input)), " ")
	b := strings.Join(strings.Fields(strings.ToUpper(standardized)), " ")
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return false
	}
	aParts := strings.Fields(a)
	bParts := strings.Fields(b)
	if len(aParts) > 0 && len(bParts) > 0 && aParts[0] == bParts[0] {
		return false
	}
	return true
}
