package trakt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ErrNoToken is returned when no token has been stored yet
var ErrNoToken = errors.New("token file not found")

// TokenStore defines the interface for storing and retrieving tokens
type TokenStore interface {
	GetToken() (*Token, error)
	SaveToken(token *Token) error
}

// Token represents a Trakt authentication token
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// FileTokenStore implements TokenStore using a JSON file
type FileTokenStore struct {
	filepath string
}

// NewFileTokenStore creates a new file-based token store
func NewFileTokenStore(filepath string) *FileTokenStore {
	return &FileTokenStore{filepath: filepath}
}

// GetToken retrieves the token from the file
func (s *FileTokenStore) GetToken() (*Token, error) {
	data, err := os.ReadFile(s.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoToken
		}
		return nil, err
	}

	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// SaveToken writes the token next to its final path and renames it into place
func (s *FileTokenStore) SaveToken(token *Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.filepath), ".token-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.filepath)
}

// DeviceCodeResponse represents the response from device code request
type DeviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// TokenResponse represents the response from token request
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// GetToken retrieves the current token from the token store
func (c *Client) GetToken() (*Token, error) {
	return c.tokenStore.GetToken()
}

// Authenticate performs the device authentication flow, printing the user code to out
func (c *Client) Authenticate(ctx context.Context, out io.Writer) error {
	deviceCodeReq := map[string]string{
		"client_id": c.clientID,
	}

	var deviceResp DeviceCodeResponse
	if err := c.send(ctx, "POST", "/oauth/device/code", deviceCodeReq, &deviceResp); err != nil {
		return fmt.Errorf("failed to get device code: %w", err)
	}

	c.logger.Info().Str("url", deviceResp.VerificationURL).Str("code", deviceResp.UserCode).Msg("Waiting for device authorization")
	fmt.Fprintf(out, "\nPlease visit %s and enter code: %s\n\n", deviceResp.VerificationURL, deviceResp.UserCode)

	interval := time.Duration(deviceResp.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := c.now().Add(time.Duration(deviceResp.ExpiresIn) * time.Second)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if c.now().After(deadline) {
				return fmt.Errorf("authentication timeout")
			}

			tokenReq := map[string]string{
				"code":          deviceResp.DeviceCode,
				"client_id":     c.clientID,
				"client_secret": c.clientSecret,
			}

			var tokenResp TokenResponse
			if err := c.send(ctx, "POST", "/oauth/device/token", tokenReq, &tokenResp); err != nil {
				// 400 means the user has not approved yet
				c.logger.Debug().Err(err).Msg("Waiting for user authorization")
				continue
			}

			if err := c.saveTokenResponse(tokenResp); err != nil {
				return err
			}
			c.logger.Info().Msg("Authentication successful")
			return nil
		}
	}
}

// RefreshToken refreshes the access token using the refresh token
func (c *Client) RefreshToken(ctx context.Context) error {
	token, err := c.tokenStore.GetToken()
	if err != nil {
		return fmt.Errorf("no token to refresh: %w", err)
	}

	refreshReq := map[string]string{
		"refresh_token": token.RefreshToken,
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"grant_type":    "refresh_token",
	}

	var tokenResp TokenResponse
	if err := c.send(ctx, "POST", "/oauth/token", refreshReq, &tokenResp); err != nil {
		return fmt.Errorf("failed to refresh token: %w", err)
	}
	if err := c.saveTokenResponse(tokenResp); err != nil {
		return err
	}

	c.logger.Info().Msg("Token refreshed successfully")
	return nil
}

func (c *Client) saveTokenResponse(resp TokenResponse) error {
	token := &Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    c.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}
	if err := c.tokenStore.SaveToken(token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}
