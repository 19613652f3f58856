package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"marketplace-system/internal/apperror"
	"marketplace-system/internal/config"
)

// SignatureVerifier проверяет подпись входящих вебхуков платежного провайдера.
// Заголовок подписи имеет вид "t=<unix>,v1=<hex hmac-sha256>".
type SignatureVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewSignatureVerifier создаёт проверку подписи вебхуков.
func NewSignatureVerifier(cfg *config.WebhookConfig) *SignatureVerifier {
	return &SignatureVerifier{
		secret:    []byte(cfg.Secret),
		tolerance: time.Duration(cfg.ToleranceSeconds) * time.Second,
		now:       time.Now,
	}
}

// Verify проверяет подпись тела запроса. Возвращает unauthorized при любом
// несоответствии: повреждённый заголовок, устаревший timestamp, неверный HMAC.
func (v *SignatureVerifier) Verify(payload []byte, header string) error {
	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return apperror.Unauthorized("invalid signature header", err)
	}

	if v.tolerance > 0 {
		age := v.now().Sub(time.Unix(timestamp, 0))
		if age > v.tolerance || age < -v.tolerance {
			return apperror.Unauthorized("signature timestamp outside tolerance", nil)
		}
	}

	expected := ComputeSignature(v.secret, timestamp, payload)
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}

	return apperror.Unauthorized("signature mismatch", nil)
}

// ComputeSignature вычисляет HMAC-SHA256 подпись для timestamp и тела.
func ComputeSignature(secret []byte, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (int64, []string, error) {
	var (
		timestamp  int64
		signatures []string
		hasTS      bool
	)

	for _, part := range strings.Split(header, ",") {
		pair := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(pair) != 2 {
			continue
		}
		switch pair[0] {
		case "t":
			ts, err := strconv.ParseInt(pair[1], 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("invalid timestamp: %w", err)
			}
			timestamp = ts
			hasTS = true
		case "v1":
			signatures = append(signatures, pair[1])
		}
	}

	if !hasTS {
		return 0, nil, fmt.Errorf("missing timestamp")
	}
	if len(signatures) == 0 {
		return 0, nil, fmt.Errorf("missing signature")
	}

	return timestamp, signatures, nil
}
