package credentials

import (
	"os"
	"strings"
)

// App credential material is usually mounted into the container as files,
// with environment variables as the fallback for local runs.
const (
	envAppID      = "GITHUB_APP_ID"
	envPrivateKey = "GITHUB_APP_PRIVATE_KEY"
)

// LoadAppCredentials reads the GitHub App ID and private key from the given
// file paths, falling back to GITHUB_APP_ID / GITHUB_APP_PRIVATE_KEY. Both
// empty means no credentials are configured and access will be anonymous.
func LoadAppCredentials(idPath, keyPath string) (appID string, privateKey []byte, err error) {
	if data, readErr := os.ReadFile(idPath); readErr == nil {
		appID = strings.TrimSpace(string(data))
	} else {
		appID = os.Getenv(envAppID)
	}

	if data, readErr := os.ReadFile(keyPath); readErr == nil {
		privateKey = data
	} else if v := os.Getenv(envPrivateKey); v != "" {
		privateKey = []byte(v)
	}

	return appID, privateKey, nil
}

// NewProvider returns an AppProvider when credentials are present, otherwise
// Anonymous.
func NewProvider(appID string, privateKey []byte, org, repo string, opts ...AppOption) (Provider, error) {
	if appID == "" || len(privateKey) == 0 {
		return Anonymous{}, nil
	}
	return NewAppProvider(appID, privateKey, org, repo, opts...)
}
