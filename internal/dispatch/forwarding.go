package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/kvreplica/protokv/internal/cluster"
	"github.com/kvreplica/protokv/internal/kvstate"
)

// Forwarding is the StateMethods implementation for a server that does not
// host the targeted participant: it resolves the current leader through a
// cluster.Directory and issues an HTTP RPC using the wire surface of spec
// §6, then maps the response back (spec §4.4).
type Forwarding struct {
	dir    cluster.Directory
	client *http.Client
	log    *zap.Logger
}

// NewForwarding returns a Forwarding dispatcher resolving leaders via dir.
func NewForwarding(dir cluster.Directory, client *http.Client, log *zap.Logger) *Forwarding {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Forwarding{dir: dir, client: client, log: log.Named("dispatch.forwarding")}
}

func (f *Forwarding) leaderBaseURL(database, logID string) (string, error) {
	leaderID, ok := f.dir.CurrentLeader(database, logID)
	if !ok {
		return "", cluster.ErrNoKnownLeader
	}
	addr, ok := f.dir.Resolve(leaderID)
	if !ok {
		return "", fmt.Errorf("dispatch: no address for participant %s", leaderID)
	}
	return addr.BaseURL, nil
}

// indexResponse mirrors the `{ index: LogIndex }` response shape spec §6
// specifies for every write endpoint.
type indexResponse struct {
	Index kvstate.LogIndex `json:"index"`
}

// forgettableDirectory is implemented by directories that support dropping a
// stale leader announcement, e.g. cluster.StaticDirectory.
type forgettableDirectory interface {
	ForgetLeader(database, logID string)
}

func (f *Forwarding) doJSON(ctx context.Context, database, logID, method, urlStr string, body interface{}, out interface{}) (int, error) {
	var reqBody *bytes.Buffer
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(b)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("forward request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		if fd, ok := f.dir.(forgettableDirectory); ok {
			fd.ForgetLeader(database, logID)
		}
		return resp.StatusCode, kvstate.ErrNotLeader
	}
	if resp.StatusCode == http.StatusPreconditionFailed {
		return resp.StatusCode, kvstate.ErrPreconditionFailed
	}
	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, ErrUnknownState
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("forward request: unexpected status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// Insert implements StateMethods by POSTing to the insert endpoint.
func (f *Forwarding) Insert(ctx context.Context, database, logID string, m map[string]string, opts WriteOptions) (kvstate.LogIndex, error) {
	base, err := f.leaderBaseURL(database, logID)
	if err != nil {
		return 0, err
	}
	u := fmt.Sprintf("%s/_api/prototype-state/%s/insert?%s", base, logID, writeQuery(opts))
	var out indexResponse
	_, err = f.doJSON(ctx, database, logID, http.MethodPost, u, m, &out)
	return out.Index, err
}

// Remove implements StateMethods by issuing a DELETE with the batch
// multi-remove endpoint (used uniformly regardless of key count).
func (f *Forwarding) Remove(ctx context.Context, database, logID string, keys []string, opts WriteOptions) (kvstate.LogIndex, error) {
	base, err := f.leaderBaseURL(database, logID)
	if err != nil {
		return 0, err
	}
	u := fmt.Sprintf("%s/_api/prototype-state/%s/multi-remove?%s", base, logID, writeQuery(opts))
	var out indexResponse
	_, err = f.doJSON(ctx, database, logID, http.MethodDelete, u, keys, &out)
	return out.Index, err
}

// CompareExchange implements StateMethods by PUTting to the cmp-ex
// endpoint. A 412 response preserves PreconditionFailed's distinction from
// transport failures (spec §4.4).
func (f *Forwarding) CompareExchange(ctx context.Context, database, logID, key, oldValue, newValue string, opts WriteOptions) (kvstate.LogIndex, error) {
	base, err := f.leaderBaseURL(database, logID)
	if err != nil {
		return 0, err
	}
	u := fmt.Sprintf("%s/_api/prototype-state/%s/cmp-ex?%s", base, logID, writeQuery(opts))
	body := map[string]map[string]string{
		key: {"oldValue": oldValue, "newValue": newValue},
	}
	var out indexResponse
	_, err = f.doJSON(ctx, database, logID, http.MethodPut, u, body, &out)
	return out.Index, err
}

type kvResultResponse struct {
	Result map[string]string `json:"result"`
}

// Get implements StateMethods via the multi-get endpoint (single-key
// convenience wrapper).
func (f *Forwarding) Get(ctx context.Context, database, logID, key string, opts ReadOptions) (string, bool, error) {
	m, err := f.GetMulti(ctx, database, logID, []string{key}, opts)
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

// GetMulti implements StateMethods by POSTing the key list to multi-get.
func (f *Forwarding) GetMulti(ctx context.Context, database, logID string, keys []string, opts ReadOptions) (map[string]string, error) {
	base, err := f.leaderBaseURL(database, logID)
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/_api/prototype-state/%s/multi-get?%s", base, logID, readQuery(opts))
	var out kvResultResponse
	_, err = f.doJSON(ctx, database, logID, http.MethodPost, u, keys, &out)
	return out.Result, err
}

// GetSnapshot implements StateMethods via the snapshot endpoint.
func (f *Forwarding) GetSnapshot(ctx context.Context, database, logID string, opts ReadOptions) (map[string]string, error) {
	base, err := f.leaderBaseURL(database, logID)
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/_api/prototype-state/%s/snapshot?%s", base, logID, readQuery(opts))
	var out kvResultResponse
	_, err = f.doJSON(ctx, database, logID, http.MethodGet, u, nil, &out)
	return out.Result, err
}

// WaitForApplied implements StateMethods via the blocking wait-for-applied
// endpoint, which returns 204 once satisfied.
func (f *Forwarding) WaitForApplied(ctx context.Context, database, logID string, index kvstate.LogIndex) error {
	base, err := f.leaderBaseURL(database, logID)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/_api/prototype-state/%s/wait-for-applied/%d", base, logID, index)
	_, err = f.doJSON(ctx, database, logID, http.MethodGet, u, nil, nil)
	return err
}

type statusResponse struct {
	Result struct {
		ID kvstate.LogIndex `json:"id"`
	} `json:"result"`
}

// Status implements StateMethods via the status endpoint. Only the id is
// decoded from the forwarded response; the role field it also carries is
// ignored, and Forwarding reports "leader", since it always resolves to the
// current leader.
func (f *Forwarding) Status(ctx context.Context, database, logID string) (kvstate.LogIndex, string, error) {
	base, err := f.leaderBaseURL(database, logID)
	if err != nil {
		return 0, "", err
	}
	u := fmt.Sprintf("%s/_api/prototype-state/%s", base, logID)
	var out statusResponse
	_, err = f.doJSON(ctx, database, logID, http.MethodGet, u, nil, &out)
	return out.Result.ID, "leader", err
}

func writeQuery(opts WriteOptions) string {
	v := url.Values{}
	v.Set("waitForApplied", boolStr(opts.WaitForApplied))
	v.Set("waitForSync", boolStr(opts.WaitForSync))
	v.Set("waitForCommit", boolStr(opts.WaitForCommit))
	return v.Encode()
}

func readQuery(opts ReadOptions) string {
	v := url.Values{}
	v.Set("waitForApplied", strconv.FormatUint(uint64(opts.WaitForApplied), 10))
	v.Set("allowDirtyRead", boolStr(opts.AllowDirtyRead))
	if opts.ReadFrom != "" {
		v.Set("readFrom", opts.ReadFrom)
	}
	return v.Encode()
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
