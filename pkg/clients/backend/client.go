package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"mytonstorage-dashboard/pkg/models"
	v1 "mytonstorage-dashboard/pkg/models/api/v1"
)

const sessionCookie = "session_id"

type Client interface {
	ProofPayload(ctx context.Context) (string, error)
	Login(ctx context.Context, info v1.LoginInfo) error
	Logout()
	HasSession() bool

	Upload(ctx context.Context, description string, files []models.FileInfo, progress ProgressFunc) (bagID string, err error)
	UnpaidBags(ctx context.Context) ([]v1.UserBagInfo, error)
	MarkBagAsPaid(ctx context.Context, bagID, storageContract string) error
	RemoveBag(ctx context.Context, bagID string) error
	BagsInfoShort(ctx context.Context, contracts []string) ([]v1.BagInfoShort, error)

	Offers(ctx context.Context, req v1.OffersRequest) (v1.ProviderRatesResponse, error)
	InitStorageContract(ctx context.Context, req v1.InitStorageContractRequest) (v1.Transaction, error)
	Topup(ctx context.Context, req v1.TopupRequest) (v1.Transaction, error)
	Withdraw(ctx context.Context, req v1.WithdrawRequest) (v1.Transaction, error)
	UpdateProviders(ctx context.Context, req v1.UpdateProvidersRequest) (v1.Transaction, error)
}

// ProgressFunc receives the number of file bytes sent so far and the total.
type ProgressFunc func(sent, total uint64)

type client struct {
	base   *url.URL
	jar    *sessionJar
	client http.Client
	upload http.Client
}

func (c *client) ProofPayload(ctx context.Context) (string, error) {
	var res v1.ProofPayload
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/ton-proof", nil, &res); err != nil {
		return "", fmt.Errorf("failed to do request: %w", err)
	}

	if res.Data == "" {
		return "", errors.New("empty proof payload in response")
	}

	return res.Data, nil
}

func (c *client) Login(ctx context.Context, info v1.LoginInfo) error {
	var res struct {
		Status string `json:"status"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/login", info, &res); err != nil {
		return fmt.Errorf("failed to do request: %w", err)
	}

	if !c.HasSession() {
		return errors.New("no session cookie in login response")
	}

	return nil
}

func (c *client) Logout() {
	c.jar.Reset()
}

func (c *client) HasSession() bool {
	for _, ck := range c.jar.Cookies(c.base) {
		if ck.Name == sessionCookie && ck.Value != "" {
			return true
		}
	}

	return false
}

func (c *client) Upload(ctx context.Context, description string, files []models.FileInfo, progress ProgressFunc) (string, error) {
	if len(files) == 0 {
		return "", models.ErrNoFiles
	}

	var total uint64
	for _, f := range files {
		total += f.Size
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeMultipart(mw, description, files, total, progress))
	}()

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+"/api/v1/files/", pr)
	if err != nil {
		_ = pr.Close()
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	r.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := c.upload.Do(r)
	if err != nil {
		_ = pr.Close()
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer res.Body.Close()

	var out v1.UploadResponse
	if err = decodeResponse(res, &out); err != nil {
		return "", err
	}

	if out.BagID == "" {
		return "", errors.New("empty bag ID in response")
	}

	return strings.ToLower(out.BagID), nil
}

func writeMultipart(mw *multipart.Writer, description string, files []models.FileInfo, total uint64, progress ProgressFunc) error {
	if err := mw.WriteField("description", description); err != nil {
		return err
	}

	var sent uint64
	for _, f := range files {
		part, err := mw.CreateFormFile("file", f.Name)
		if err != nil {
			return err
		}

		src, err := os.Open(f.Path)
		if err != nil {
			return fmt.Errorf("failed to open file %s: %w", f.Path, err)
		}

		_, err = io.Copy(part, &progressReader{r: src, sent: &sent, total: total, progress: progress})
		_ = src.Close()
		if err != nil {
			return fmt.Errorf("failed to send file %s: %w", f.Name, err)
		}
	}

	return mw.Close()
}

type progressReader struct {
	r        io.Reader
	sent     *uint64
	total    uint64
	progress ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		*p.sent += uint64(n)
		if p.progress != nil {
			p.progress(*p.sent, p.total)
		}
	}

	return n, err
}

func (c *client) UnpaidBags(ctx context.Context) ([]v1.UserBagInfo, error) {
	var res []v1.UserBagInfo
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/files/unpaid", nil, &res); err != nil {
		return nil, fmt.Errorf("failed to do request: %w", err)
	}

	return res, nil
}

func (c *client) MarkBagAsPaid(ctx context.Context, bagID, storageContract string) error {
	req := v1.PaidBagRequest{BagID: bagID, StorageContract: storageContract}
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/files/paid", req, nil); err != nil {
		return fmt.Errorf("failed to do request: %w", err)
	}

	return nil
}

func (c *client) RemoveBag(ctx context.Context, bagID string) error {
	if err := c.doRequest(ctx, http.MethodDelete, "/api/v1/files/"+url.PathEscape(bagID), nil, nil); err != nil {
		return fmt.Errorf("failed to do request: %w", err)
	}

	return nil
}

func (c *client) BagsInfoShort(ctx context.Context, contracts []string) ([]v1.BagInfoShort, error) {
	if len(contracts) == 0 {
		return nil, nil
	}

	var res []v1.BagInfoShort
	req := v1.DetailsRequest{ContractsAddresses: contracts}
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/files/details", req, &res); err != nil {
		return nil, fmt.Errorf("failed to do request: %w", err)
	}

	return res, nil
}

func (c *client) Offers(ctx context.Context, req v1.OffersRequest) (res v1.ProviderRatesResponse, err error) {
	if err = c.doRequest(ctx, http.MethodPost, "/api/v1/providers/offers", req, &res); err != nil {
		err = fmt.Errorf("failed to do request: %w", err)
	}

	return
}

func (c *client) InitStorageContract(ctx context.Context, req v1.InitStorageContractRequest) (res v1.Transaction, err error) {
	if err = c.doRequest(ctx, http.MethodPost, "/api/v1/providers/init-contract", req, &res); err != nil {
		err = fmt.Errorf("failed to do request: %w", err)
	}

	return
}

func (c *client) Topup(ctx context.Context, req v1.TopupRequest) (res v1.Transaction, err error) {
	if err = c.doRequest(ctx, http.MethodPost, "/api/v1/contracts/topup", req, &res); err != nil {
		err = fmt.Errorf("failed to do request: %w", err)
	}

	return
}

func (c *client) Withdraw(ctx context.Context, req v1.WithdrawRequest) (res v1.Transaction, err error) {
	if err = c.doRequest(ctx, http.MethodPost, "/api/v1/contracts/withdraw", req, &res); err != nil {
		err = fmt.Errorf("failed to do request: %w", err)
	}

	return
}

func (c *client) UpdateProviders(ctx context.Context, req v1.UpdateProvidersRequest) (res v1.Transaction, err error) {
	if err = c.doRequest(ctx, http.MethodPost, "/api/v1/contracts/update", req, &res); err != nil {
		err = fmt.Errorf("failed to do request: %w", err)
	}

	return
}

func (c *client) doRequest(ctx context.Context, method, path string, req, resp any) error {
	buf := &bytes.Buffer{}
	if req != nil {
		if err := json.NewEncoder(buf).Encode(req); err != nil {
			return fmt.Errorf("failed to encode request data: %w", err)
		}
	}

	r, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, buf)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if req != nil {
		r.Header.Set("Content-Type", "application/json")
	}

	res, err := c.client.Do(r)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer res.Body.Close()

	return decodeResponse(res, resp)
}

func decodeResponse(res *http.Response, resp any) error {
	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return models.ErrUnauthorized
	case http.StatusGone:
		return models.ErrOfferWindowExpired
	case http.StatusNotFound:
		return models.ErrNotFound
	default:
		var e struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil || e.Error == "" {
			return models.NewAppError(res.StatusCode, fmt.Sprintf("status code is %d", res.StatusCode))
		}
		return models.NewAppError(res.StatusCode, e.Error)
	}

	if resp == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}

	if err := json.NewDecoder(res.Body).Decode(resp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// sessionJar is a cookie jar that can be dropped on logout.
type sessionJar struct {
	mu  sync.RWMutex
	jar *cookiejar.Jar
}

func (j *sessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	j.jar.SetCookies(u, cookies)
}

func (j *sessionJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.jar.Cookies(u)
}

func (j *sessionJar) Reset() {
	jar, _ := cookiejar.New(nil)

	j.mu.Lock()
	j.jar = jar
	j.mu.Unlock()
}

func NewClient(base string, timeout time.Duration) (Client, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}

	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend url: %q", base)
	}

	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	sj := &sessionJar{jar: jar}

	return &client{
		base: u,
		jar:  sj,
		client: http.Client{
			Timeout: timeout,
			Jar:     sj,
		},
		// uploads are bounded by the request context only
		upload: http.Client{
			Jar: sj,
		},
	}, nil
}
