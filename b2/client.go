package b2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/valyala/fasttemplate"
)

// DefaultAPIURL is the account authorization endpoint used
// when Config.APIURL is empty.
const DefaultAPIURL = "https://api.backblaze.com"

const apiCallTemplate = "{api_url}/b2api/v1/{call}"

// ErrBucketNotFound is returned by Session.BucketID when no
// bucket of the account has the requested name.
var ErrBucketNotFound = errors.New("bucket not found")

// Config holds the credentials and endpoint of a Client.
type Config struct {
	// APIURL is the base URL used for
	// b2_authorize_account. Defaults to DefaultAPIURL.
	APIURL string
	// AccountID is the B2 account (or key) identifier.
	AccountID string
	// ApplicationKey is the secret matching AccountID.
	ApplicationKey string
	// HTTPClient overrides http.DefaultClient.
	HTTPClient *http.Client
}

// Client authorizes against the B2 API.
type Client struct {
	apiURL    string
	accountID string
	appKey    string
	client    *http.Client
}

// Session is an authorized account. Its calls go to the
// API URL handed out by b2_authorize_account.
type Session struct {
	AccountID          string `json:"accountId"`
	AuthorizationToken string `json:"authorizationToken"`
	APIURL             string `json:"apiUrl"`
	DownloadURL        string `json:"downloadUrl"`

	client *http.Client
}

// Bucket is one entry of b2_list_buckets.
type Bucket struct {
	AccountID  string `json:"accountId"`
	BucketID   string `json:"bucketId"`
	BucketName string `json:"bucketName"`
	BucketType string `json:"bucketType"`
}

// UploadURL is the answer of b2_get_upload_url.
type UploadURL struct {
	BucketID           string `json:"bucketId"`
	UploadURL          string `json:"uploadUrl"`
	AuthorizationToken string `json:"authorizationToken"`
}

// APIError is a non-200 answer from the B2 API. Body holds
// the raw response; Code and Message are filled when the
// body is a B2 error document.
type APIError struct {
	StatusCode int
	Body       string
	Code       string
	Message    string
}

// Error returns the raw response body.
func (e *APIError) Error() string {
	return e.Body
}

type errorDocument struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type listBucketsRequest struct {
	AccountID string `json:"accountId"`
}

type listBucketsResponse struct {
	Buckets []Bucket `json:"buckets"`
}

type getUploadURLRequest struct {
	BucketID string `json:"bucketId"`
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	const errCtx = "creating b2 client"

	if cfg.AccountID == "" {
		return nil, fmt.Errorf(
			"%s: account id must be set", errCtx,
		)
	}

	if cfg.ApplicationKey == "" {
		return nil, fmt.Errorf(
			"%s: application key must be set", errCtx,
		)
	}

	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}

	return &Client{
		apiURL:    cfg.APIURL,
		accountID: cfg.AccountID,
		appKey:    cfg.ApplicationKey,
		client:    cfg.HTTPClient,
	}, nil
}

// Authorize calls b2_authorize_account with HTTP basic
// authentication.
func (c *Client) Authorize(ctx context.Context) (*Session, error) {
	const errCtx = "authorizing account"

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		callURL(c.apiURL, "b2_authorize_account"),
		http.NoBody,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: build request: %w", errCtx, err,
		)
	}

	req.SetBasicAuth(c.accountID, c.appKey)

	var ss Session
	if err := do(c.client, req, &ss); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if ss.APIURL == "" || ss.AuthorizationToken == "" {
		return nil, fmt.Errorf(
			"%s: response lacks apiUrl or authorizationToken",
			errCtx,
		)
	}

	ss.client = c.client

	return &ss, nil
}

// ListBuckets calls b2_list_buckets for the session's
// account.
func (s *Session) ListBuckets(ctx context.Context) ([]Bucket, error) {
	const errCtx = "listing buckets"

	var lr listBucketsResponse

	err := s.post(
		ctx,
		"b2_list_buckets",
		listBucketsRequest{AccountID: s.AccountID},
		&lr,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return lr.Buckets, nil
}

// BucketID returns the identifier of the first bucket named
// name.
func (s *Session) BucketID(
	ctx context.Context,
	name string,
) (string, error) {
	const errCtx = "resolving bucket"

	buckets, err := s.ListBuckets(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	for _, bk := range buckets {
		if bk.BucketName == name {
			return bk.BucketID, nil
		}
	}

	return "", fmt.Errorf(
		"%s: %w: %q", errCtx, ErrBucketNotFound, name,
	)
}

// GetUploadURL calls b2_get_upload_url for bucketID.
func (s *Session) GetUploadURL(
	ctx context.Context,
	bucketID string,
) (*UploadURL, error) {
	const errCtx = "getting upload url"

	var uu UploadURL

	err := s.post(
		ctx,
		"b2_get_upload_url",
		getUploadURLRequest{BucketID: bucketID},
		&uu,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if uu.UploadURL == "" {
		return nil, fmt.Errorf(
			"%s: response lacks uploadUrl", errCtx,
		)
	}

	return &uu, nil
}

func (s *Session) post(
	ctx context.Context,
	call string,
	payload any,
	out any,
) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		callURL(s.APIURL, call),
		bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Authorization", s.AuthorizationToken)
	req.Header.Set(
		"Content-Type",
		"application/json; charset=utf-8",
	)

	return do(s.client, req, out)
}

// do sends req and decodes a 200 answer into out. Any other
// status becomes an *APIError.
func do(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	defer resp.Body.Close() //nolint:errcheck

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	slog.Debug(
		"b2 response",
		"url", req.URL.String(),
		"status", resp.Status,
	)

	if resp.StatusCode != http.StatusOK {
		ae := &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(rb),
		}

		var doc errorDocument
		if json.Unmarshal(rb, &doc) == nil {
			ae.Code = doc.Code
			ae.Message = doc.Message
		}

		return ae
	}

	if err := json.Unmarshal(rb, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func callURL(base string, call string) string {
	return fasttemplate.ExecuteStringStd(
		apiCallTemplate, "{", "}",
		map[string]interface{}{
			"api_url": strings.TrimRight(base, "/"),
			"call":    call,
		},
	)
}
