package revocation

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/ocsp"

	"github.com/subnoto/adesvalidator/common"
	"github.com/subnoto/adesvalidator/log"
)

const defaultCacheTTL = time.Hour

// NewRedisClient connects to the redis server used as revocation cache.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), nil
}

// CachedOCSPSource keeps OCSP responses fetched by Source in redis.
// Cached responses are checked against the issuer again when read back.
type CachedOCSPSource struct {
	Source OCSPSource
	Client *redis.Client
	TTL    time.Duration
	// Timeout bounds every redis call. Zero means one second.
	Timeout time.Duration
}

// NewCachedOCSPSource wraps source with a redis cache.
func NewCachedOCSPSource(source OCSPSource, client *redis.Client, ttl time.Duration) *CachedOCSPSource {
	return &CachedOCSPSource{Source: source, Client: client, TTL: ttl}
}

func (s *CachedOCSPSource) FindOCSPResponse(cert, issuer *x509.Certificate) *ocsp.Response {
	if cert == nil {
		return nil
	}
	if issuer == nil || s.Client == nil {
		return s.find(cert, issuer)
	}
	key := ocspCacheKey(cert, issuer)

	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout(s.Timeout))
	defer cancel()

	data, err := s.Client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		resp, perr := ocsp.ParseResponseForCert(data, cert, issuer)
		if perr == nil {
			log.Debug("OCSP cache hit for ", cert.Subject.CommonName)
			return resp
		}
		log.Warning("dropping unusable cached OCSP response: ", perr)
		s.Client.Del(ctx, key)
	case !errors.Is(err, redis.Nil):
		log.Warning("OCSP cache lookup failed: ", err)
	}

	resp := s.find(cert, issuer)
	if resp == nil || len(resp.Raw) == 0 {
		return resp
	}
	ttl := cacheTTL(s.TTL, resp.NextUpdate)
	if ttl > 0 {
		if err := s.Client.Set(ctx, key, resp.Raw, ttl).Err(); err != nil {
			log.Warning("OCSP cache store failed: ", err)
		}
	}
	return resp
}

func (s *CachedOCSPSource) find(cert, issuer *x509.Certificate) *ocsp.Response {
	if s.Source == nil {
		return nil
	}
	return s.Source.FindOCSPResponse(cert, issuer)
}

// CachedCRLSource keeps CRLs fetched by Source in redis, one entry per issuer.
type CachedCRLSource struct {
	Source  CRLSource
	Client  *redis.Client
	TTL     time.Duration
	Timeout time.Duration
}

// NewCachedCRLSource wraps source with a redis cache.
func NewCachedCRLSource(source CRLSource, client *redis.Client, ttl time.Duration) *CachedCRLSource {
	return &CachedCRLSource{Source: source, Client: client, TTL: ttl}
}

func (s *CachedCRLSource) FindCRL(cert, issuer *x509.Certificate) *x509.RevocationList {
	if cert == nil {
		return nil
	}
	if s.Client == nil {
		return s.find(cert, issuer)
	}
	key := crlCacheKey(cert)

	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout(s.Timeout))
	defer cancel()

	data, err := s.Client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		crl, perr := x509.ParseRevocationList(data)
		if perr == nil {
			log.Debug("CRL cache hit for ", cert.Subject.CommonName)
			return crl
		}
		log.Warning("dropping unusable cached CRL: ", perr)
		s.Client.Del(ctx, key)
	case !errors.Is(err, redis.Nil):
		log.Warning("CRL cache lookup failed: ", err)
	}

	crl := s.find(cert, issuer)
	if crl == nil || len(crl.Raw) == 0 {
		return crl
	}
	ttl := cacheTTL(s.TTL, crl.NextUpdate)
	if ttl > 0 {
		if err := s.Client.Set(ctx, key, crl.Raw, ttl).Err(); err != nil {
			log.Warning("CRL cache store failed: ", err)
		}
	}
	return crl
}

func (s *CachedCRLSource) find(cert, issuer *x509.Certificate) *x509.RevocationList {
	if s.Source == nil {
		return nil
	}
	return s.Source.FindCRL(cert, issuer)
}

func ocspCacheKey(cert, issuer *x509.Certificate) string {
	sum := sha256.Sum256(issuer.Raw)
	return "ocsp:" + hex.EncodeToString(sum[:]) + ":" + cert.SerialNumber.Text(16)
}

func crlCacheKey(cert *x509.Certificate) string {
	sum := sha256.Sum256([]byte(common.CanonicalName(cert.Issuer)))
	return "crl:" + hex.EncodeToString(sum[:])
}

// cacheTTL never keeps an entry past the next update of the object.
func cacheTTL(ttl time.Duration, nextUpdate time.Time) time.Duration {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if !nextUpdate.IsZero() {
		if remaining := time.Until(nextUpdate); remaining < ttl {
			return remaining
		}
	}
	return ttl
}

func cacheTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	return d
}
