// Package crm provides the JSON-RPC client for the external CRM.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"crmsync_backend/platform/config"
	"crmsync_backend/platform/logger"

	"golang.org/x/time/rate"
)

const (
	rpcPath       = "/jsonrpc"
	leadModel     = "crm.lead"
	writeDateFmt  = "2006-01-02 15:04:05"
	methodCount   = "search_count"
	methodSearch  = "search_read"
	methodRead    = "read"
)

// Condition is one [field, operator, value] triple; conditions in a Domain
// are ANDed together by the upstream API.
type Condition [3]any

// Domain is the filter expression passed to search_count / search_read.
type Domain []Condition

// OpportunityDomain returns the base filter every engine query carries.
func OpportunityDomain() Domain {
	return Domain{{"type", "=", "opportunity"}}
}

// ModifiedSince appends a write_date cutoff condition.
func (d Domain) ModifiedSince(cutoff time.Time) Domain {
	return append(d, Condition{"write_date", ">=", cutoff.UTC().Format(writeDateFmt)})
}

// Client is the HTTP JSON-RPC client for the external CRM.
type Client struct {
	httpClient *http.Client
	baseURL    string
	database   string
	uid        int
	apiKey     string
	limiter    *rate.Limiter
	timeout    time.Duration
	nextID     atomic.Int64
	log        *logger.Logger
}

// New creates a new external CRM client.
func New(cfg config.CRMConfig, log *logger.Logger) *Client {
	perSecond := cfg.GetCRMRateLimit()
	if perSecond <= 0 {
		perSecond = 5
	}

	timeout := cfg.GetCRMTimeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.GetCRMURL(),
		database:   cfg.GetCRMDatabase(),
		uid:        cfg.GetCRMUID(),
		apiKey:     cfg.GetCRMAPIKey(),
		limiter:    rate.NewLimiter(rate.Limit(perSecond), 1),
		timeout:    timeout,
		log:        log,
	}
}

// SearchCount returns the number of leads matching the domain.
func (c *Client) SearchCount(ctx context.Context, domain Domain) (int, error) {
	var count int
	if err := c.execute(ctx, methodCount, []any{domain}, nil, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// SearchRead fetches one page of leads matching the domain.
func (c *Client) SearchRead(ctx context.Context, domain Domain, limit, offset int) ([]Lead, error) {
	kwargs := map[string]any{
		"fields": LeadFields,
		"limit":  limit,
		"offset": offset,
		"order":  "id asc",
	}

	var rows []map[string]json.RawMessage
	if err := c.execute(ctx, methodSearch, []any{domain}, kwargs, &rows); err != nil {
		return nil, err
	}
	return decodeLeads(rows)
}

// ReadByIDs fetches specific leads by external id. IDs absent upstream are
// simply missing from the result, not an error.
func (c *Client) ReadByIDs(ctx context.Context, ids []int64) ([]Lead, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	kwargs := map[string]any{"fields": LeadFields}

	var rows []map[string]json.RawMessage
	if err := c.execute(ctx, methodRead, []any{ids}, kwargs, &rows); err != nil {
		return nil, err
	}
	return decodeLeads(rows)
}

func decodeLeads(rows []map[string]json.RawMessage) ([]Lead, error) {
	leads := make([]Lead, 0, len(rows))
	for _, row := range rows {
		lead, err := decodeLead(row)
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	return leads, nil
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// execute performs one execute_kw call. Calls are rate limited and carry a
// per-call deadline; there are no intra-run retries.
func (c *Client) execute(ctx context.Context, method string, args []any, kwargs map[string]any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	callArgs := []any{c.database, c.uid, c.apiKey, leadModel, method}
	callArgs = append(callArgs, args...)
	if kwargs != nil {
		callArgs = append(callArgs, kwargs)
	}

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params: rpcParams{
			Service: "object",
			Method:  "execute_kw",
			Args:    callArgs,
		},
		ID: c.nextID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+rpcPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.RPCError(method, err)
		return fmt.Errorf("crm rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("crm rpc %s: status %d", method, resp.StatusCode)
		c.log.RPCError(method, err)
		return err
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode rpc response: %w", err)
	}

	if rpcResp.Error != nil {
		err := fmt.Errorf("crm rpc %s: %s", method, rpcResp.Error.Message)
		c.log.RPCError(method, err)
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("decode rpc result: %w", err)
	}
	return nil
}
