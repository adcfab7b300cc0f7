package db

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/rds/auth"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vvka-141/pgtenant/internal/retry"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// AzurePostgreSQLScope is the Entra ID scope for Azure Database for PostgreSQL.
const AzurePostgreSQLScope = "https://ossrdbms-aad.database.windows.net/.default"

// rdsTokenLifetime is the validity of an RDS IAM auth token.
const rdsTokenLifetime = 15 * time.Minute

// TokenProvider issues short-lived passwords for cloud IAM database auth.
type TokenProvider interface {
	GetToken(ctx context.Context) (token string, expiresOn time.Time, err error)
	// String describes the provider without secrets.
	String() string
}

// TokenBasedConnector uses a fresh cloud token as the password on every
// connect attempt.
type TokenBasedConnector struct {
	config   *pgtenant.ConnectionConfig
	provider TokenProvider
	opts     connectorOptions
}

var _ pgtenant.Connector = (*TokenBasedConnector)(nil)

// NewTokenBasedConnector creates a connector backed by provider.
func NewTokenBasedConnector(config *pgtenant.ConnectionConfig, provider TokenProvider, opts ...ConnectorOption) *TokenBasedConnector {
	return &TokenBasedConnector{config: config, provider: provider, opts: newConnectorOptions(opts)}
}

// Connect acquires a token and opens a pool with it.
func (c *TokenBasedConnector) Connect(ctx context.Context) (*pgxpool.Pool, error) {
	return retry.Value(ctx, c.opts.retry, func(ctx context.Context) (*pgxpool.Pool, error) {
		token, expiresOn, err := c.provider.GetToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire token from %s: %w", c.provider, err)
		}
		if remaining := time.Until(expiresOn); remaining < 5*time.Minute {
			c.opts.logger.Warn("%s token expires in %s", c.provider, remaining.Round(time.Second))
		}

		withToken := *c.config
		withToken.Password = token
		return OpenPool(ctx, &withToken, c.opts.pool, c.opts.logger)
	})
}

// AWSIAMTokenProvider builds RDS IAM tokens from the default AWS credential chain.
type AWSIAMTokenProvider struct {
	endpoint string
	region   string
	username string
}

// NewAWSIAMTokenProvider validates the RDS endpoint (host:port), region and user.
func NewAWSIAMTokenProvider(endpoint, region, username string) (*AWSIAMTokenProvider, error) {
	switch {
	case endpoint == "" || endpoint == ":0":
		return nil, fmt.Errorf("aws iam auth requires an endpoint: %w", pgtenant.ErrInvalidConfig)
	case region == "":
		return nil, fmt.Errorf("aws iam auth requires a region (admin.aws_region or $AWS_REGION): %w", pgtenant.ErrInvalidConfig)
	case username == "":
		return nil, fmt.Errorf("aws iam auth requires a database username: %w", pgtenant.ErrInvalidConfig)
	}
	return &AWSIAMTokenProvider{endpoint: endpoint, region: region, username: username}, nil
}

func (p *AWSIAMTokenProvider) GetToken(ctx context.Context) (string, time.Time, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(p.region))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to load aws config: %w", err)
	}
	token, err := auth.BuildAuthToken(ctx, p.endpoint, p.region, p.username, cfg.Credentials)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to build rds auth token: %w", err)
	}
	return token, time.Now().Add(rdsTokenLifetime), nil
}

func (p *AWSIAMTokenProvider) String() string {
	return fmt.Sprintf("aws-iam(%s@%s, %s)", p.username, p.endpoint, p.region)
}

// AzureTokenProvider requests Entra ID tokens for the PostgreSQL scope.
type AzureTokenProvider struct {
	credential azcore.TokenCredential
	name       string
}

// newAzureTokenProvider uses a service principal when tenant, client and
// secret are all configured, and the default credential chain otherwise.
func newAzureTokenProvider(cfg *pgtenant.ConnectionConfig) (*AzureTokenProvider, error) {
	if cfg.AzureTenantID != "" && cfg.AzureClientID != "" && cfg.AzureClientSecret != "" {
		cred, err := azidentity.NewClientSecretCredential(cfg.AzureTenantID, cfg.AzureClientID, cfg.AzureClientSecret, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create azure service principal credential: %w", err)
		}
		return &AzureTokenProvider{credential: cred, name: fmt.Sprintf("azure-sp(tenant=%s, client=%s)", cfg.AzureTenantID, cfg.AzureClientID)}, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure default credential: %w", err)
	}
	return &AzureTokenProvider{credential: cred, name: "azure-default"}, nil
}

func (p *AzureTokenProvider) GetToken(ctx context.Context) (string, time.Time, error) {
	tok, err := p.credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{AzurePostgreSQLScope}})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("azure token acquisition failed: %w", err)
	}
	return tok.Token, tok.ExpiresOn, nil
}

func (p *AzureTokenProvider) String() string {
	return p.name
}
