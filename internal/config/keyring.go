package config

import "github.com/zalando/go-keyring"

// keyringService namespaces this module's entries in the OS credential
// store (macOS Keychain, Secret Service, Windows Credential Manager).
const keyringService = "matrixclaw"

// AccessTokenFromKeyring looks up a previously stored access token for
// userID, so a config file never has to carry it in the clear.
func AccessTokenFromKeyring(userID string) (string, error) {
	tok, err := keyring.Get(keyringService, userID)
	if err != nil {
		return "", err
	}
	return tok, nil
}

// StoreAccessTokenInKeyring saves token under userID for later retrieval
// by AccessTokenFromKeyring.
func StoreAccessTokenInKeyring(userID, token string) error {
	return keyring.Set(keyringService, userID, token)
}
