package authentication

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"
)

type IBasicAuthService interface {
	// Validate accepts user or admin credentials.
	Validate(username, password string) bool
	ValidateAdmin(username, password string) bool
	DecodeFromHeader(auth string) (string, string)
	// Enabled reports whether any credentials are configured.
	Enabled() bool
}

type BasicAuthTConfig struct {
	Username string

	Password string

	AdminUsername string

	AdminPassword string
}

type basicAuth struct {
	username      string
	password      string
	adminUsername string
	adminPassword string
}

func NewBasicAuthService(config *BasicAuthTConfig) IBasicAuthService {
	if config == nil {
		config = &BasicAuthTConfig{}
	}
	return &basicAuth{
		username:      config.Username,
		password:      config.Password,
		adminUsername: config.AdminUsername,
		adminPassword: config.AdminPassword,
	}
}

func (b *basicAuth) Enabled() bool {
	return b.username != "" || b.adminUsername != ""
}

func (b *basicAuth) Validate(username, password string) bool {
	if b.username != "" && equal(b.username, username) && equal(b.password, password) {
		return true
	}
	return b.ValidateAdmin(username, password)
}

func (b *basicAuth) ValidateAdmin(username, password string) bool {
	if b.adminUsername == "" {
		return false
	}
	return equal(b.adminUsername, username) && equal(b.adminPassword, password)
}

func (b *basicAuth) DecodeFromHeader(auth string) (string, string) {
	encoded := strings.TrimPrefix(auth, "Basic ")

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ""
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", ""
	}
	return username, password
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
