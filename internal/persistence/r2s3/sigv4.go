package r2s3

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	sigV4Algorithm = "AWS4-HMAC-SHA256"
	sigV4Service   = "s3"
	amzDateLayout  = "20060102T150405Z"
	signedHeaders  = "host;x-amz-content-sha256;x-amz-date"
)

// signer holds the credentials for AWS Signature V4 over the three headers
// the mirror sends. Query strings are never signed; uploads have none.
type signer struct {
	accessKeyID string
	secret      string
	region      string
}

func (s signer) scope(day string) string {
	return day + "/" + s.region + "/" + sigV4Service + "/aws4_request"
}

// sign sets x-amz-date, x-amz-content-sha256 and Authorization on req.
// canonicalURI must be the escaped path exactly as sent.
func (s signer) sign(req *http.Request, canonicalURI, payloadHash string, at time.Time) {
	at = at.UTC()
	stamp := at.Format(amzDateLayout)
	day := stamp[:8]
	host := req.URL.Host

	req.Header.Set("Host", host)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("x-amz-date", stamp)

	var cr strings.Builder
	cr.WriteString(req.Method + "\n")
	cr.WriteString(canonicalURI + "\n")
	cr.WriteString("\n")
	cr.WriteString("host:" + host + "\n")
	cr.WriteString("x-amz-content-sha256:" + payloadHash + "\n")
	cr.WriteString("x-amz-date:" + stamp + "\n")
	cr.WriteString("\n")
	cr.WriteString(signedHeaders + "\n")
	cr.WriteString(payloadHash)

	scope := s.scope(day)
	toSign := sigV4Algorithm + "\n" + stamp + "\n" + scope + "\n" + hashHex([]byte(cr.String()))

	key := []byte("AWS4" + s.secret)
	for _, part := range []string{day, s.region, sigV4Service, "aws4_request"} {
		key = mac(key, part)
	}
	sig := hex.EncodeToString(mac(key, toSign))

	req.Header.Set("Authorization", sigV4Algorithm+
		" Credential="+s.accessKeyID+"/"+scope+
		", SignedHeaders="+signedHeaders+
		", Signature="+sig)
}

func mac(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	_, _ = io.WriteString(h, data)
	return h.Sum(nil)
}

func hashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
