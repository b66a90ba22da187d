package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingSignature       = errors.New("missing signature header")
	ErrMalformedSignature     = errors.New("malformed signature header")
	ErrTimestampOutsideWindow = errors.New("timestamp outside tolerance window")
	ErrInvalidSignature       = errors.New("invalid signature")
)

// VerifySignature checks a payment-processor style signature header of the
// form "t=<unix>,v1=<hex>" where v1 is HMAC-SHA256 over "<t>.<body>" with the
// shared secret. The timestamp must fall within tolerance of now (replay
// protection); the comparison is constant-time.
func VerifySignature(body []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSignature
	}

	var tsPart, sigPart string
	for _, p := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			tsPart = v
		case "v1":
			sigPart = v
		}
	}
	if tsPart == "" || sigPart == "" {
		return ErrMalformedSignature
	}

	tsInt, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return ErrMalformedSignature
	}
	ts := time.Unix(tsInt, 0)

	if tolerance > 0 {
		if ts.Before(now.Add(-tolerance)) || ts.After(now.Add(tolerance)) {
			return ErrTimestampOutsideWindow
		}
	}

	provided, err := hex.DecodeString(sigPart)
	if err != nil {
		return ErrInvalidSignature
	}

	if !hmac.Equal(provided, computeMAC(tsPart, body, secret)) {
		return ErrInvalidSignature
	}
	return nil
}

// SignHeader builds a valid signature header, used by tests and local tools.
func SignHeader(body []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(computeMAC(ts, body, secret))
}

func computeMAC(ts string, body []byte, secret string) []byte {
	msg := make([]byte, 0, len(ts)+1+len(body))
	msg = append(msg, ts...)
	msg = append(msg, '.')
	msg = append(msg, body...)

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(msg)
	return mac.Sum(nil)
}
