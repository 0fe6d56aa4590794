// Package engineclient is a typed JSON-RPC 2.0 client for an
// aria2c-compatible engine, reachable over local HTTP with token auth.
package engineclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lc5900/flamingo-downloader/internal/apperr"
)

// Client is a JSON-RPC 2.0 client bound to one engine endpoint.
type Client struct {
	endpoint string // http://127.0.0.1:<port>/jsonrpc
	secret   string
	http     *http.Client
}

func New(endpoint, secret string) *Client {
	return &Client{
		endpoint: endpoint,
		secret:   secret,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcErrorBody   `json:"error"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call prepends "token:<secret>" as the first positional parameter,
// per the engine's JSON-RPC auth convention, and unmarshals result
// into out (which may be nil to discard it).
func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	allParams := append([]interface{}{"token:" + c.secret}, params...)

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  allParams,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return apperr.Wrap(apperr.RpcProtocol, "marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return apperr.Wrap(apperr.RpcProtocol, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return apperr.Wrap(apperr.EngineUnavailable, "rpc transport", err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return apperr.Wrap(apperr.RpcProtocol, "decode response", err)
	}

	if rpcResp.Error != nil {
		return apperr.New(apperr.RpcError, fmt.Sprintf("%s: code=%d %s", method, rpcResp.Error.Code, rpcResp.Error.Message))
	}
	if rpcResp.Result == nil {
		return apperr.New(apperr.RpcProtocol, fmt.Sprintf("%s: missing result", method))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return apperr.Wrap(apperr.RpcProtocol, fmt.Sprintf("%s: unmarshal result", method), err)
	}
	return nil
}

// AddURI submits one or more mirrors of the same download.
func (c *Client) AddURI(ctx context.Context, uris []string, options map[string]string) (string, error) {
	var gid string
	params := []interface{}{uris}
	if options != nil {
		params = append(params, options)
	}
	if err := c.call(ctx, "aria2.addUri", params, &gid); err != nil {
		return "", err
	}
	return gid, nil
}

// AddTorrent submits a base64-encoded .torrent file, with optional web seeds.
func (c *Client) AddTorrent(ctx context.Context, torrentBase64 string, uris []string, options map[string]string) (string, error) {
	var gid string
	params := []interface{}{torrentBase64, uris}
	if options != nil {
		params = append(params, options)
	}
	if err := c.call(ctx, "aria2.addTorrent", params, &gid); err != nil {
		return "", err
	}
	return gid, nil
}

func (c *Client) Pause(ctx context.Context, gid string) error {
	return c.call(ctx, "aria2.pause", []interface{}{gid}, nil)
}

func (c *Client) Unpause(ctx context.Context, gid string) error {
	return c.call(ctx, "aria2.unpause", []interface{}{gid}, nil)
}

func (c *Client) ForceRemove(ctx context.Context, gid string) error {
	return c.call(ctx, "aria2.forceRemove", []interface{}{gid}, nil)
}

func (c *Client) Remove(ctx context.Context, gid string) error {
	return c.call(ctx, "aria2.remove", []interface{}{gid}, nil)
}

func (c *Client) RemoveDownloadResult(ctx context.Context, gid string) error {
	return c.call(ctx, "aria2.removeDownloadResult", []interface{}{gid}, nil)
}

func (c *Client) PauseAll(ctx context.Context) error {
	return c.call(ctx, "aria2.pauseAll", nil, nil)
}

func (c *Client) UnpauseAll(ctx context.Context) error {
	return c.call(ctx, "aria2.unpauseAll", nil, nil)
}

func (c *Client) SaveSession(ctx context.Context) error {
	return c.call(ctx, "aria2.saveSession", nil, nil)
}

func (c *Client) Shutdown(ctx context.Context) error {
	return c.call(ctx, "aria2.shutdown", nil, nil)
}

// DefaultStatusKeys, when non-nil, restricts the fields the engine returns.
var DefaultStatusKeys = []string{
	"gid", "status", "totalLength", "completedLength", "downloadSpeed",
	"uploadSpeed", "connections", "errorCode", "errorMessage", "bittorrent",
	"files", "dir",
}

func (c *Client) TellStatus(ctx context.Context, gid string, keys []string) (json.RawMessage, error) {
	var raw json.RawMessage
	params := []interface{}{gid}
	if keys != nil {
		params = append(params, keys)
	}
	if err := c.call(ctx, "aria2.tellStatus", params, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) tellMany(ctx context.Context, method string, args []interface{}, keys []string) ([]json.RawMessage, error) {
	var raw []json.RawMessage
	params := append([]interface{}{}, args...)
	if keys != nil {
		params = append(params, keys)
	}
	if err := c.call(ctx, method, params, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) TellActive(ctx context.Context, keys []string) ([]json.RawMessage, error) {
	return c.tellMany(ctx, "aria2.tellActive", nil, keys)
}

func (c *Client) TellWaiting(ctx context.Context, offset, num int, keys []string) ([]json.RawMessage, error) {
	return c.tellMany(ctx, "aria2.tellWaiting", []interface{}{offset, num}, keys)
}

func (c *Client) TellStopped(ctx context.Context, offset, num int, keys []string) ([]json.RawMessage, error) {
	return c.tellMany(ctx, "aria2.tellStopped", []interface{}{offset, num}, keys)
}

func (c *Client) ChangeOption(ctx context.Context, gid string, opts map[string]string) error {
	return c.call(ctx, "aria2.changeOption", []interface{}{gid, opts}, nil)
}

func (c *Client) ChangeGlobalOption(ctx context.Context, opts map[string]string) error {
	return c.call(ctx, "aria2.changeGlobalOption", []interface{}{opts}, nil)
}

func (c *Client) GetGlobalOption(ctx context.Context) (map[string]string, error) {
	var opts map[string]string
	if err := c.call(ctx, "aria2.getGlobalOption", nil, &opts); err != nil {
		return nil, err
	}
	return opts, nil
}

func (c *Client) GetGlobalStat(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "aria2.getGlobalStat", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) GetVersion(ctx context.Context) (string, error) {
	var v struct {
		Version string `json:"version"`
	}
	if err := c.call(ctx, "aria2.getVersion", nil, &v); err != nil {
		return "", err
	}
	return v.Version, nil
}

func (c *Client) GetPeers(ctx context.Context, gid string) ([]json.RawMessage, error) {
	var raw []json.RawMessage
	if err := c.call(ctx, "aria2.getPeers", []interface{}{gid}, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ChangePosition moves gid and returns its new position. how is one of
// "POS_SET", "POS_CUR", "POS_END".
func (c *Client) ChangePosition(ctx context.Context, gid string, pos int, how string) (int, error) {
	var newPos int
	if err := c.call(ctx, "aria2.changePosition", []interface{}{gid, pos, how}, &newPos); err != nil {
		return 0, err
	}
	return newPos, nil
}
