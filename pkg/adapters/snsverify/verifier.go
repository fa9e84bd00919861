// Package snsverify authenticates SNS HTTP deliveries by checking the
// message signature against the signing certificate SNS publishes.
package snsverify

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Message types SNS delivers to HTTP subscribers.
const (
	TypeSubscriptionConfirmation = "SubscriptionConfirmation"
	TypeNotification             = "Notification"
	TypeUnsubscribeConfirmation  = "UnsubscribeConfirmation"
)

const maxCertBytes = 64 * 1024

// ErrInvalidSignature is returned for unsigned, tampered or unverifiable messages.
var ErrInvalidSignature = errors.New("invalid SNS message signature")

// snsHost matches regional SNS endpoints, including the China partition.
var snsHost = regexp.MustCompile(`^sns\.[a-z0-9-]+\.amazonaws\.com(\.cn)?$`)

// Message is the envelope SNS posts to HTTP endpoints.
type Message struct {
	Type             string `json:"Type"`
	MessageID        string `json:"MessageId"`
	TopicARN         string `json:"TopicArn"`
	Subject          string `json:"Subject,omitempty"`
	Message          string `json:"Message"`
	Timestamp        string `json:"Timestamp"`
	SubscribeURL     string `json:"SubscribeURL,omitempty"`
	UnsubscribeURL   string `json:"UnsubscribeURL,omitempty"`
	Token            string `json:"Token,omitempty"`
	SignatureVersion string `json:"SignatureVersion,omitempty"`
	Signature        string `json:"Signature,omitempty"`
	SigningCertURL   string `json:"SigningCertURL,omitempty"`
}

// ValidateSNSURL accepts only HTTPS URLs on an SNS endpoint host.
func ValidateSNSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return errors.New("url is not a valid URL")
	}
	if u.Scheme != "https" || !snsHost.MatchString(u.Hostname()) {
		return fmt.Errorf("url host %q is not an SNS endpoint", u.Hostname())
	}
	return nil
}

// StringToSign builds the canonical text SNS signs for msg.
func StringToSign(msg *Message) ([]byte, error) {
	var fields [][2]string
	switch msg.Type {
	case TypeNotification:
		fields = append(fields, [2]string{"Message", msg.Message}, [2]string{"MessageId", msg.MessageID})
		if msg.Subject != "" {
			fields = append(fields, [2]string{"Subject", msg.Subject})
		}
		fields = append(fields,
			[2]string{"Timestamp", msg.Timestamp},
			[2]string{"TopicArn", msg.TopicARN},
			[2]string{"Type", msg.Type})
	case TypeSubscriptionConfirmation, TypeUnsubscribeConfirmation:
		fields = [][2]string{
			{"Message", msg.Message},
			{"MessageId", msg.MessageID},
			{"SubscribeURL", msg.SubscribeURL},
			{"Timestamp", msg.Timestamp},
			{"Token", msg.Token},
			{"TopicArn", msg.TopicARN},
			{"Type", msg.Type},
		}
	default:
		return nil, fmt.Errorf("unsupported SNS message type %q", msg.Type)
	}

	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f[0])
		b.WriteByte('\n')
		b.WriteString(f[1])
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

// CertFetcher downloads a PEM signing certificate.
type CertFetcher interface {
	Fetch(ctx context.Context, certURL string) ([]byte, error)
}

// HTTPCertFetcher fetches certificates with a plain GET.
type HTTPCertFetcher struct {
	Client *http.Client
}

func (f *HTTPCertFetcher) Fetch(ctx context.Context, certURL string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, certURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signing certificate url returned %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxCertBytes))
}

// Verifier checks SNS message signatures. Certificates are cached by URL.
type Verifier struct {
	fetcher CertFetcher
	now     func() time.Time

	mu    sync.Mutex
	certs map[string]*x509.Certificate
}

// NewVerifier creates a Verifier that downloads certificates with fetcher.
func NewVerifier(fetcher CertFetcher) *Verifier {
	return &Verifier{
		fetcher: fetcher,
		now:     time.Now,
		certs:   make(map[string]*x509.Certificate),
	}
}

// Verify returns nil only when msg carries a valid signature from an SNS
// signing certificate. Failures wrap ErrInvalidSignature.
func (v *Verifier) Verify(ctx context.Context, msg *Message) error {
	if msg.Signature == "" || msg.SigningCertURL == "" {
		return fmt.Errorf("%w: message is not signed", ErrInvalidSignature)
	}

	var (
		hash   crypto.Hash
		digest []byte
	)
	payload, err := StringToSign(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	switch msg.SignatureVersion {
	case "1":
		sum := sha1.Sum(payload)
		hash, digest = crypto.SHA1, sum[:]
	case "2":
		sum := sha256.Sum256(payload)
		hash, digest = crypto.SHA256, sum[:]
	default:
		return fmt.Errorf("%w: unsupported signature version %q", ErrInvalidSignature, msg.SignatureVersion)
	}

	if err := validateCertURL(msg.SigningCertURL); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	signature, err := base64.StdEncoding.DecodeString(msg.Signature)
	if err != nil {
		return fmt.Errorf("%w: signature is not base64", ErrInvalidSignature)
	}

	cert, err := v.certificate(ctx, msg.SigningCertURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	now := v.now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return fmt.Errorf("%w: signing certificate is not valid at %s", ErrInvalidSignature, now.UTC().Format(time.RFC3339))
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: signing certificate key is not RSA", ErrInvalidSignature)
	}
	if err := rsa.VerifyPKCS1v15(pub, hash, digest, signature); err != nil {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}
	return nil
}

func validateCertURL(raw string) error {
	if err := ValidateSNSURL(raw); err != nil {
		return fmt.Errorf("signing certificate %w", err)
	}
	u, _ := url.Parse(raw)
	if !strings.HasSuffix(u.Path, ".pem") {
		return errors.New("signing certificate url is not a PEM file")
	}
	return nil
}

func (v *Verifier) certificate(ctx context.Context, certURL string) (*x509.Certificate, error) {
	v.mu.Lock()
	cert, ok := v.certs[certURL]
	v.mu.Unlock()
	if ok {
		return cert, nil
	}

	raw, err := v.fetcher.Fetch(ctx, certURL)
	if err != nil {
		return nil, fmt.Errorf("fetch signing certificate: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("signing certificate is not PEM encoded")
	}
	cert, err = x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing certificate: %w", err)
	}

	v.mu.Lock()
	v.certs[certURL] = cert
	v.mu.Unlock()
	return cert, nil
}
