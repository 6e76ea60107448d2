// Package signingkey derives SigV4 signing keys and keeps them in a
// bounded cache so that the HMAC chain runs once per day per
// secret/region/service.
package signingkey

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/lestrrat-go/sigv4/scope"
)

const secretPrefix = "AWS4"

// Derive runs the key derivation chain for the given date stamp
// (yyyyMMdd), region and service:
//
//	kDate    = HMAC("AWS4" + secret, date)
//	kRegion  = HMAC(kDate, region)
//	kService = HMAC(kRegion, service)
//	kSigning = HMAC(kService, "aws4_request")
func Derive(secret, dateStamp, region, service string) []byte {
	key := hmacSHA256([]byte(secretPrefix+secret), dateStamp)
	key = hmacSHA256(key, region)
	key = hmacSHA256(key, service)
	return hmacSHA256(key, scope.Terminator)
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}
