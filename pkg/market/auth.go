package market

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthType selects how the feed connection authenticates upstream.
type AuthType string

const (
	// AuthTypeToken appends a static API token as a query parameter.
	AuthTypeToken AuthType = "token"
	// AuthTypeJWT signs a short-lived ES256 bearer token per connection,
	// used by enterprise feed endpoints.
	AuthTypeJWT AuthType = "jwt"
)

// Authenticator decorates the dial request with upstream credentials.
type Authenticator interface {
	Decorate(u *url.URL, header http.Header) error
}

// TokenAuthenticator authenticates with a static API token.
type TokenAuthenticator struct {
	token string
}

func NewTokenAuthenticator(token string) *TokenAuthenticator {
	return &TokenAuthenticator{token: token}
}

func (a *TokenAuthenticator) Decorate(u *url.URL, _ http.Header) error {
	q := u.Query()
	q.Set("token", a.token)
	u.RawQuery = q.Encode()
	return nil
}

// JWTAuthenticator authenticates with a per-connection ES256 bearer token.
type JWTAuthenticator struct {
	apiKeyName string
	privateKey *ecdsa.PrivateKey
}

func NewJWTAuthenticator(apiKeyName, privateKeyPEM string) (*JWTAuthenticator, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block containing the private key")
	}

	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		// Try PKCS8 format
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse EC private key: %w", err)
		}
		var ok bool
		privateKey, ok = key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("not an EC private key")
		}
	}

	return &JWTAuthenticator{
		apiKeyName: apiKeyName,
		privateKey: privateKey,
	}, nil
}

func (a *JWTAuthenticator) Decorate(u *url.URL, header http.Header) error {
	token, err := a.generateJWT(u.Host)
	if err != nil {
		return fmt.Errorf("failed to generate JWT: %w", err)
	}
	header.Set("Authorization", "Bearer "+token)
	return nil
}

func (a *JWTAuthenticator) generateJWT(host string) (string, error) {
	nonce, err := generateNonce()
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{
		"sub":   a.apiKeyName,
		"nbf":   time.Now().Unix(),
		"exp":   time.Now().Add(2 * time.Minute).Unix(),
		"uri":   "GET " + host,
		"nonce": nonce,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = a.apiKeyName
	token.Header["nonce"] = nonce

	tokenString, err := token.SignedString(a.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
