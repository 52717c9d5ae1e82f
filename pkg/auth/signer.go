// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	HeaderAuthorization = "authorization"
	HeaderDate          = "x-ms-date"

	tokenType    = "master"
	tokenVersion = "1.0"
)

// Signer injects Cosmos DB master-key authorization headers.
type Signer struct {
	Key []byte
	Now func() time.Time
}

// NewSigner decodes the base64 master key and returns a signer with sane defaults.
func NewSigner(masterKey string) (*Signer, error) {
	masterKey = strings.TrimSpace(masterKey)
	if masterKey == "" {
		return nil, errors.New("master key must be set")
	}
	key, err := base64.StdEncoding.DecodeString(masterKey)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	return &Signer{
		Key: key,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// Token computes the authorization header value for a request against the
// given resource. resourceLink is the path of the resource being addressed
// (e.g. "dbs/proxydb") or of its parent for create and query calls.
func (s *Signer) Token(verb, resourceType, resourceLink, date string) (string, error) {
	if len(s.Key) == 0 {
		return "", errors.New("signer key must be set")
	}

	payload := strings.ToLower(verb) + "\n" +
		strings.ToLower(resourceType) + "\n" +
		resourceLink + "\n" +
		strings.ToLower(date) + "\n" +
		"\n"

	mac := hmac.New(sha256.New, s.Key)
	if _, err := mac.Write([]byte(payload)); err != nil {
		return "", fmt.Errorf("compute signature: %w", err)
	}
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return url.QueryEscape("type=" + tokenType + "&ver=" + tokenVersion + "&sig=" + signature), nil
}

// AttachSignature mutates the request by setting the date header and the
// matching authorization token.
func (s *Signer) AttachSignature(req *http.Request, resourceType, resourceLink string) error {
	date := s.Now().UTC().Format(http.TimeFormat)

	token, err := s.Token(req.Method, resourceType, resourceLink, date)
	if err != nil {
		return err
	}

	req.Header.Set(HeaderDate, date)
	req.Header.Set(HeaderAuthorization, token)

	return nil
}
