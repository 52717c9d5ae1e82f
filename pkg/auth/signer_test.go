// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package auth

import (
	"net/http"
	"net/url"
	"testing"
	"time"
)

func TestSignerAttachSignature(t *testing.T) {
	u, err := url.Parse("https://account.documents.azure.com/dbs/proxydb/colls/items/docs")
	if err != nil {
		t.Fatalf("failed to parse url: %v", err)
	}

	req := &http.Request{
		Method: "POST",
		URL:    u,
		Header: make(http.Header),
	}

	signer, err := NewSigner("c2VjcmV0LWtleQ==")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	signer.Now = func() time.Time {
		return time.Unix(1_700_000_000, 0).UTC()
	}

	err = signer.AttachSignature(req, "docs", "dbs/proxydb/colls/items")
	if err != nil {
		t.Fatalf("AttachSignature: %v", err)
	}

	got := map[string]string{
		HeaderAuthorization: req.Header.Get(HeaderAuthorization),
		HeaderDate:          req.Header.Get(HeaderDate),
	}

	want := map[string]string{
		HeaderAuthorization: "type%3Dmaster%26ver%3D1.0%26sig%3D41aJL4aUiAe5tHlg%2Fu8S8XMWufdxhlI94tk5xQp4r%2Fs%3D",
		HeaderDate:          "Tue, 14 Nov 2023 22:13:20 GMT",
	}

	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s header mismatch: got %q, want %q", k, got[k], v)
		}
	}
}

func TestNewSignerRejectsInvalidKey(t *testing.T) {
	if _, err := NewSigner(""); err == nil {
		t.Fatal("expected error for empty key")
	}
	if _, err := NewSigner("not base64!"); err == nil {
		t.Fatal("expected error for non-base64 key")
	}
}

func TestTokenRequiresKey(t *testing.T) {
	s := &Signer{}
	if _, err := s.Token("GET", "dbs", "dbs/proxydb", "Tue, 14 Nov 2023 22:13:20 GMT"); err == nil {
		t.Fatal("expected error when key is missing")
	}
}
