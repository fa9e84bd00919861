package snsverify

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCertURL = "https://sns.us-east-1.amazonaws.com/SimpleNotificationService-abc123.pem"

type signer struct {
	key     *rsa.PrivateKey
	certPEM []byte
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "sns.amazonaws.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return &signer{key: key, certPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})}
}

func (s *signer) sign(t *testing.T, msg *Message, version string) {
	t.Helper()
	payload, err := StringToSign(msg)
	require.NoError(t, err)

	var (
		hash   crypto.Hash
		digest []byte
	)
	if version == "1" {
		sum := sha1.Sum(payload)
		hash, digest = crypto.SHA1, sum[:]
	} else {
		sum := sha256.Sum256(payload)
		hash, digest = crypto.SHA256, sum[:]
	}
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, hash, digest)
	require.NoError(t, err)

	msg.SignatureVersion = version
	msg.SigningCertURL = testCertURL
	msg.Signature = base64.StdEncoding.EncodeToString(sig)
}

type stubFetcher struct {
	pem   []byte
	err   error
	calls int
}

func (f *stubFetcher) Fetch(ctx context.Context, certURL string) ([]byte, error) {
	f.calls++
	return f.pem, f.err
}

func notification() *Message {
	return &Message{
		Type:      TypeNotification,
		MessageID: "22b80b92-fdea-4c2c-8f9d-bdfb0c7bf324",
		TopicARN:  "arn:aws:sns:us-east-1:123456789012:dataset-validator-results",
		Message:   `{"file_id":"f9c2b1f8-5d43-4a4b-9a1e-8f61f2b1c001","status":"VALID"}`,
		Timestamp: "2026-10-15T12:00:00.000Z",
	}
}

func TestVerifier_AcceptsSignedMessages(t *testing.T) {
	s := newSigner(t)

	for _, version := range []string{"1", "2"} {
		t.Run("version "+version, func(t *testing.T) {
			v := NewVerifier(&stubFetcher{pem: s.certPEM})
			msg := notification()
			s.sign(t, msg, version)
			assert.NoError(t, v.Verify(context.Background(), msg))
		})
	}
}

func TestVerifier_AcceptsSignedSubscriptionConfirmation(t *testing.T) {
	s := newSigner(t)
	v := NewVerifier(&stubFetcher{pem: s.certPEM})

	msg := &Message{
		Type:         TypeSubscriptionConfirmation,
		MessageID:    "165545c9-2a5c-472c-8df2-7ff2be2b3b1b",
		TopicARN:     "arn:aws:sns:us-east-1:123456789012:atlas-storage-events",
		Message:      "You have chosen to subscribe to the topic.",
		Timestamp:    "2026-10-15T12:00:00.000Z",
		SubscribeURL: "https://sns.us-east-1.amazonaws.com/?Action=ConfirmSubscription&Token=abc",
		Token:        "abc",
	}
	s.sign(t, msg, "2")
	assert.NoError(t, v.Verify(context.Background(), msg))
}

func TestVerifier_Rejects(t *testing.T) {
	s := newSigner(t)
	other := newSigner(t)

	tests := []struct {
		name   string
		mutate func(msg *Message)
		pem    []byte
	}{
		{"unsigned", func(msg *Message) { msg.Signature, msg.SigningCertURL = "", "" }, s.certPEM},
		{"tampered body", func(msg *Message) { msg.Message = `{"status":"VALID","file_id":"other"}` }, s.certPEM},
		{"tampered topic", func(msg *Message) { msg.TopicARN = "arn:aws:sns:us-east-1:999:other" }, s.certPEM},
		{"wrong key", func(msg *Message) {}, other.certPEM},
		{"foreign cert host", func(msg *Message) { msg.SigningCertURL = "https://attacker.example/cert.pem" }, s.certPEM},
		{"lookalike cert host", func(msg *Message) {
			msg.SigningCertURL = "https://sns.us-east-1.amazonaws.com.attacker.example/cert.pem"
		}, s.certPEM},
		{"plain http cert", func(msg *Message) {
			msg.SigningCertURL = "http://sns.us-east-1.amazonaws.com/SimpleNotificationService-abc123.pem"
		}, s.certPEM},
		{"not a pem path", func(msg *Message) { msg.SigningCertURL = "https://sns.us-east-1.amazonaws.com/cert" }, s.certPEM},
		{"unknown version", func(msg *Message) { msg.SignatureVersion = "3" }, s.certPEM},
		{"bad base64", func(msg *Message) { msg.Signature = "!!!" }, s.certPEM},
		{"not a certificate", func(msg *Message) {}, []byte("hello")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(&stubFetcher{pem: tt.pem})
			msg := notification()
			s.sign(t, msg, "2")
			tt.mutate(msg)

			err := v.Verify(context.Background(), msg)
			assert.True(t, errors.Is(err, ErrInvalidSignature), "got %v", err)
		})
	}
}

func TestVerifier_RejectsExpiredCertificate(t *testing.T) {
	s := newSigner(t)
	v := NewVerifier(&stubFetcher{pem: s.certPEM})
	v.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	msg := notification()
	s.sign(t, msg, "2")
	assert.ErrorIs(t, v.Verify(context.Background(), msg), ErrInvalidSignature)
}

func TestVerifier_FetchFailure(t *testing.T) {
	s := newSigner(t)
	v := NewVerifier(&stubFetcher{err: errors.New("connection refused")})

	msg := notification()
	s.sign(t, msg, "2")
	assert.ErrorIs(t, v.Verify(context.Background(), msg), ErrInvalidSignature)
}

func TestVerifier_CachesCertificates(t *testing.T) {
	s := newSigner(t)
	fetcher := &stubFetcher{pem: s.certPEM}
	v := NewVerifier(fetcher)

	for range 3 {
		msg := notification()
		s.sign(t, msg, "2")
		require.NoError(t, v.Verify(context.Background(), msg))
	}
	assert.Equal(t, 1, fetcher.calls)
}

func TestStringToSign(t *testing.T) {
	msg := notification()
	msg.Subject = "done"

	payload, err := StringToSign(msg)
	require.NoError(t, err)
	assert.Equal(t, "Message\n"+msg.Message+"\nMessageId\n"+msg.MessageID+
		"\nSubject\ndone\nTimestamp\n"+msg.Timestamp+"\nTopicArn\n"+msg.TopicARN+"\nType\nNotification\n", string(payload))

	_, err = StringToSign(&Message{Type: "Bogus"})
	assert.Error(t, err)
}

func TestValidateSNSURL(t *testing.T) {
	assert.NoError(t, ValidateSNSURL("https://sns.eu-west-2.amazonaws.com/?Action=ConfirmSubscription"))
	assert.NoError(t, ValidateSNSURL("https://sns.cn-north-1.amazonaws.com.cn/cert.pem"))
	assert.Error(t, ValidateSNSURL(""))
	assert.Error(t, ValidateSNSURL("https://s3.amazonaws.com/cert.pem"))
	assert.Error(t, ValidateSNSURL("https://sns.us-east-1.amazonaws.com.attacker.example/"))
	assert.Error(t, ValidateSNSURL("http://sns.us-east-1.amazonaws.com/"))
}

func TestHTTPCertFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.pem" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("-----BEGIN CERTIFICATE-----"))
	}))
	defer srv.Close()

	f := &HTTPCertFetcher{Client: srv.Client()}
	body, err := f.Fetch(context.Background(), srv.URL+"/cert.pem")
	require.NoError(t, err)
	assert.Equal(t, "-----BEGIN CERTIFICATE-----", string(body))

	_, err = f.Fetch(context.Background(), srv.URL+"/missing.pem")
	assert.Error(t, err)
}
