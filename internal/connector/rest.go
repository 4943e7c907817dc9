package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/milkywaybrain/tickvault/internal/config"
)

// REST is for REST connection.
type REST struct {
	HTTPClient *http.Client
}

var rest REST

// InitREST initializes http client with configured values.
func InitREST(cfg *config.REST) *REST {
	if rest.HTTPClient == nil {
		rest = *NewREST(cfg)
	}
	return &rest
}

// NewREST creates a http client which is not shared through GetREST.
func NewREST(cfg *config.REST) *REST {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.MaxIdleConns > 0 {
		t.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost > 0 {
		t.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	return &REST{
		HTTPClient: &http.Client{
			Timeout:   time.Duration(cfg.ReqTimeoutSec) * time.Second,
			Transport: t,
		},
	}
}

// GetREST returns already initialized http client.
func GetREST() (*REST, error) {
	if rest.HTTPClient == nil {
		return nil, errors.New("REST connection is not yet prepared")
	}
	return &rest, nil
}

// Request creates a new request object for http operation.
func (r *REST) Request(appCtx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(appCtx, method, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Do makes GET http call to exchange.
// The response body is closed if the status is not OK.
func (r *REST) Do(req *http.Request) (*http.Response, error) {
	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("code : %v, status : %v", resp.StatusCode, resp.Status)
	}
	return resp, nil
}

// GetJSON makes GET http call to url and decodes the JSON response into v.
func (r *REST) GetJSON(ctx context.Context, url string, v interface{}) error {
	req, err := r.Request(ctx, http.MethodGet, url)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := r.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return jsoniter.NewDecoder(resp.Body).Decode(v)
}
