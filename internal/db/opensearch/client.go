// Package opensearch implements the index backend for OpenSearch domains and
// OpenSearch Serverless collections, signing requests with AWS SigV4.
package opensearch

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"
	requestsigner "github.com/opensearch-project/opensearch-go/v4/signer/awsv2"

	"github.com/kailas-cloud/vecdex-ingest/internal/db"
)

// Compile-time checks.
var (
	_ db.Store          = (*Store)(nil)
	_ db.DocumentWriter = (*Store)(nil)
)

// Service names accepted by SigV4 signing.
const (
	ServiceServerless = "aoss"
	ServiceManaged    = "es"
)

// Config holds connection parameters for an OpenSearch endpoint.
type Config struct {
	// Host is the collection endpoint. A leading "https://" is stripped;
	// "http://" is kept and disables TLS (local clusters).
	Host string
	Port int
	// Region enables SigV4 signing when set. Empty sends unsigned requests.
	Region     string
	Service    string
	Username   string
	Password   string
	Timeout    time.Duration
	MaxRetries int
	// PingIndex is checked by Ping. Serverless collections do not serve "HEAD /".
	PingIndex string
	// OmitDocumentIDs leaves _id out of bulk actions. Serverless vector collections
	// reject caller-supplied ids; the store then assigns them and writes are not idempotent.
	OmitDocumentIDs bool
}

// Store implements db.Store and db.DocumentWriter over opensearch-go.
type Store struct {
	client    *opensearchapi.Client
	transport *http.Transport
	timeout   time.Duration
	pingIndex string
	omitIDs   bool
}

// NewStore creates an OpenSearch store. AWS credentials come from the default chain.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Service == "" {
		cfg.Service = ServiceServerless
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: cfg.Timeout,
		MaxIdleConnsPerHost:   10,
	}

	osCfg := opensearch.Config{
		Addresses:            []string{Address(cfg.Host, cfg.Port)},
		Username:             cfg.Username,
		Password:             cfg.Password,
		MaxRetries:           cfg.MaxRetries,
		EnableRetryOnTimeout: true,
		RetryOnStatus:        []int{http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout},
		DisableRetry:         cfg.MaxRetries <= 0,
		Transport:            transport,
	}

	if cfg.Region != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		signer, err := requestsigner.NewSignerWithService(awsCfg, cfg.Service)
		if err != nil {
			return nil, fmt.Errorf("create sigv4 signer: %w", err)
		}
		osCfg.Signer = signer
	}

	client, err := opensearchapi.NewClient(opensearchapi.Config{Client: osCfg})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &Store{
		client:    client,
		transport: transport,
		timeout:   cfg.Timeout,
		pingIndex: cfg.PingIndex,
		omitIDs:   cfg.OmitDocumentIDs,
	}, nil
}

// Address builds the endpoint URL from a host as configured for the collection.
func Address(host string, port int) string {
	scheme := "https"
	switch {
	case strings.HasPrefix(host, "https://"):
		host = strings.TrimPrefix(host, "https://")
	case strings.HasPrefix(host, "http://"):
		scheme = "http"
		host = strings.TrimPrefix(host, "http://")
	}
	host = strings.TrimSuffix(host, "/")

	if port <= 0 || strings.Contains(host, ":") {
		return scheme + "://" + host
	}
	return scheme + "://" + host + ":" + strconv.Itoa(port)
}

// Ping checks that the endpoint answers an authenticated request.
// A missing ping index still proves connectivity.
func (s *Store) Ping(ctx context.Context) error {
	target := s.pingIndex
	if target == "" {
		target = "_all"
	}
	if _, err := s.IndexExists(ctx, target); err != nil {
		return &db.Error{Op: db.OpPing, Err: err}
	}
	return nil
}

// Close releases idle connections.
func (s *Store) Close() error {
	s.transport.CloseIdleConnections()
	return nil
}

// WaitForReady polls Ping until the store responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	return db.WaitForReady(ctx, s, timeout)
}
