package httpvalidator

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
	"github.com/fntelecomllc/studio-sub001/internal/config"
	"github.com/fntelecomllc/studio-sub001/internal/keywordextractor"
	"github.com/fntelecomllc/studio-sub001/internal/proxymanager"
)

const maxBodyReadBytes = 2 * 1024 * 1024

type HTTPValidator struct {
	appConfig *config.AppConfig
	proxyMgr  *proxymanager.ProxyManager
	limiter   *rate.Limiter

	mu         sync.Mutex
	personaIdx int
}

func New(appCfg *config.AppConfig, proxyMgr *proxymanager.ProxyManager) *HTTPValidator {
	if appCfg == nil {
		log.Println("HTTPValidator Warning: appConfig is nil during construction. Default settings will be minimal.")
		appCfg = config.DefaultConfig()
	}
	cfg := appCfg.HTTPValidator
	return &HTTPValidator{
		appConfig: appCfg,
		proxyMgr:  proxyMgr,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimitDPS), cfg.RateLimitBurst),
	}
}

// nextPersona rotates round-robin over the requested persona IDs, falling
// back to server defaults when the list is empty or an ID is unknown.
func (hv *HTTPValidator) nextPersona(personaIDs []string) *config.HTTPPersona {
	if len(personaIDs) == 0 {
		return nil
	}
	hv.mu.Lock()
	id := personaIDs[hv.personaIdx%len(personaIDs)]
	hv.personaIdx++
	hv.mu.Unlock()

	persona, ok := hv.appConfig.GetHTTPPersona(id)
	if !ok {
		log.Printf("HTTPValidator: HTTP Persona ID '%s' not found. Using server defaults.", id)
		return nil
	}
	return persona
}

// clientForPersona builds an HTTP client carrying the persona's user agent,
// headers and TLS fingerprint, optionally routed through a managed proxy.
func (hv *HTTPValidator) clientForPersona(persona *config.HTTPPersona, useProxy bool) (client *http.Client, userAgent string, headers map[string]string, usedProxy *config.ProxyConfigEntry) {
	serverCfg := hv.appConfig.HTTPValidator

	headers = make(map[string]string)
	maxRedirects := serverCfg.MaxRedirects
	tlsConfig := &tls.Config{InsecureSkipVerify: serverCfg.AllowInsecureTLS}

	if persona != nil {
		userAgent = persona.UserAgent
		for k, v := range persona.Headers {
			headers[k] = v
		}
		hello := persona.TLSClientHello
		if v, ok := config.GetTLSVersion(hello.MinVersion); ok && v != 0 {
			tlsConfig.MinVersion = v
		}
		if v, ok := config.GetTLSVersion(hello.MaxVersion); ok && v != 0 {
			tlsConfig.MaxVersion = v
		}
		if s, err := config.GetCipherSuites(hello.CipherSuites); err == nil && len(s) > 0 {
			tlsConfig.CipherSuites = s
		} else if err != nil {
			log.Printf("HTTPValidator: Warn - HTTP Persona '%s' invalid ciphers: %v", persona.ID, err)
		}
		if c, err := config.GetCurvePreferences(hello.CurvePreferences); err == nil && len(c) > 0 {
			tlsConfig.CurvePreferences = c
		} else if err != nil {
			log.Printf("HTTPValidator: Warn - HTTP Persona '%s' invalid curves: %v", persona.ID, err)
		}
	}

	if userAgent == "" {
		if len(serverCfg.UserAgents) > 0 {
			userAgent = serverCfg.UserAgents[rand.Intn(len(serverCfg.UserAgents))]
		} else {
			userAgent = "StudioValidator/1.0 (DefaultUA)"
		}
	}
	if len(headers) == 0 {
		for k, v := range serverCfg.DefaultHeaders {
			headers[k] = v
		}
	}

	baseTransport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSClientConfig:       tlsConfig,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: serverCfg.RequestTimeout,
	}

	roundTripper := http.RoundTripper(baseTransport)
	if useProxy && hv.proxyMgr != nil {
		pEntry, err := hv.proxyMgr.GetProxy()
		if err == nil && pEntry != nil {
			proxyTransport, errTransport := proxymanager.GetHTTPTransportForProxy(pEntry, baseTransport)
			if errTransport == nil && proxyTransport != nil {
				roundTripper = proxyTransport
				usedProxy = pEntry
			} else {
				log.Printf("HTTPValidator: Failed to configure transport for proxy '%s': %v. Using direct transport.", pEntry.ID, errTransport)
			}
		} else {
			log.Printf("HTTPValidator: No healthy proxy available (%v). Using direct transport.", err)
		}
	}

	jar, jarErr := cookiejar.New(nil)
	if jarErr != nil {
		log.Printf("HTTPValidator: Error creating cookie jar: %v", jarErr)
	}

	client = &http.Client{
		Transport: roundTripper,
		Jar:       jar,
		Timeout:   serverCfg.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	return client, userAgent, headers, usedProxy
}

// ValidateWithKeywords fetches each domain with a rotating persona, runs the
// keyword set against the page text and returns persisted-shape result rows
// in input order.
func (hv *HTTPValidator) ValidateWithKeywords(
	ctx context.Context,
	campaignID uuid.UUID,
	domains []string,
	personaIDs []string,
	keywordSet *config.KeywordSet,
	useProxies bool,
) []campaigns.HTTPKeywordResult {
	results := make([]campaigns.HTTPKeywordResult, len(domains))
	var wg sync.WaitGroup

	concurrency := hv.appConfig.HTTPValidator.MaxConcurrentGoroutines
	if concurrency <= 0 {
		concurrency = 10
	}
	semaphore := make(chan struct{}, concurrency)

	for i, domain := range domains {
		wg.Add(1)
		semaphore <- struct{}{}
		go func(idx int, d string) {
			defer wg.Done()
			defer func() { <-semaphore }()

			vr := hv.validateOne(ctx, d, personaIDs, useProxies)

			var matches []keywordextractor.KeywordExtractionResult
			if keywordSet != nil && len(vr.Body) > 0 {
				var err error
				matches, err = keywordextractor.ExtractKeywords(vr.Body, keywordSet.Rules)
				if err != nil {
					log.Printf("HTTPValidator: Keyword extraction failed for %s: %v", d, err)
					if vr.Error == "" {
						vr.Error = "keyword extraction: " + err.Error()
					}
				}
			}
			results[idx] = vr.ToCampaignResult(campaignID, matches)
		}(i, domain)
	}
	wg.Wait()
	return results
}

func (hv *HTTPValidator) validateOne(ctx context.Context, domain string, personaIDs []string, useProxies bool) ValidationResult {
	if err := hv.limiter.Wait(ctx); err != nil {
		return ValidationResult{Domain: domain, Status: "Cancelled", Error: "Context cancelled while rate limited", Timestamp: time.Now().Format(time.RFC3339)}
	}
	persona := hv.nextPersona(personaIDs)
	client, userAgent, headers, usedProxy := hv.clientForPersona(persona, useProxies)

	result := hv.validateSingleDomain(ctx, domain, client, userAgent, headers)

	if usedProxy != nil && hv.proxyMgr != nil {
		if result.Error != "" && proxymanager.IsProxyRelatedError(result.Error, usedProxy.Address) {
			hv.proxyMgr.ReportProxyHealth(usedProxy.ID, false, fmt.Errorf("%s", result.Error))
		} else {
			hv.proxyMgr.ReportProxyHealth(usedProxy.ID, true, nil)
		}
	}
	return result
}

// ValidateSingleDomainWithClient validates one domain using a caller-supplied
// client.
func (hv *HTTPValidator) ValidateSingleDomainWithClient(ctx context.Context, domain string, httpClient *http.Client, userAgent string, headers map[string]string) ValidationResult {
	return hv.validateSingleDomain(ctx, domain, httpClient, userAgent, headers)
}

func (hv *HTTPValidator) validateSingleDomain(
	ctx context.Context,
	domain string,
	client *http.Client,
	ua string,
	customHeaders map[string]string,
) ValidationResult {
	startTime := time.Now()
	result := ValidationResult{
		Domain:    domain,
		Timestamp: startTime.Format(time.RFC3339),
	}

	targetURL := domain
	if !strings.HasPrefix(targetURL, "http://") && !strings.HasPrefix(targetURL, "https://") {
		targetURL = "http://" + targetURL
	}

	var urlsToTry []string
	if strings.HasPrefix(targetURL, "http://") {
		urlsToTry = append(urlsToTry, targetURL, strings.Replace(targetURL, "http://", "https://", 1))
	} else {
		urlsToTry = append(urlsToTry, targetURL)
	}

	var lastError error
	var resp *http.Response

	for _, rawURL := range urlsToTry {
		select {
		case <-ctx.Done():
			result.Status = "Cancelled"
			result.Error = "Context cancelled before HTTP attempt: " + ctx.Err().Error()
			result.DurationMs = time.Since(startTime).Milliseconds()
			return result
		default:
		}

		parsedURL, err := url.Parse(rawURL)
		if err != nil {
			lastError = fmt.Errorf("invalid URL %s: %w", rawURL, err)
			continue
		}

		req, err := http.NewRequestWithContext(ctx, "GET", parsedURL.String(), nil)
		if err != nil {
			lastError = fmt.Errorf("failed to create request for %s: %w", rawURL, err)
			continue
		}

		req.Header.Set("User-Agent", ua)
		for key, value := range customHeaders {
			req.Header.Set(key, value)
		}
		if _, ok := customHeaders["Accept"]; !ok {
			req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		}

		currentResp, doErr := client.Do(req)
		if doErr != nil {
			lastError = fmt.Errorf("request to %s failed: %w", rawURL, doErr)
			if currentResp != nil {
				io.Copy(io.Discard, currentResp.Body)
				currentResp.Body.Close()
			}
			if ctx.Err() == context.Canceled || ctx.Err() == context.DeadlineExceeded {
				result.Status = "Cancelled"
				result.Error = lastError.Error() + " (context: " + ctx.Err().Error() + ")"
				result.DurationMs = time.Since(startTime).Milliseconds()
				return result
			}
			continue
		}

		resp = currentResp
		lastError = nil
		break
	}

	result.DurationMs = time.Since(startTime).Milliseconds()

	if lastError != nil {
		result.Status = "Error"
		result.Error = lastError.Error()
		if urlErr, ok := lastError.(*url.Error); ok && urlErr.Timeout() {
			result.Status = "Timeout"
		}
		if ctx.Err() == context.Canceled || ctx.Err() == context.DeadlineExceeded {
			result.Status = "Cancelled"
			result.Error = result.Error + " (context: " + ctx.Err().Error() + ")"
		}
		return result
	}
	if resp == nil {
		result.Status = "Error"
		result.Error = "No response received (tried: " + strings.Join(urlsToTry, ", ") + ")"
		return result
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	result.FinalURL = resp.Request.URL.String()
	result.StatusCode = resp.StatusCode
	result.Status = http.StatusText(resp.StatusCode)
	if result.Status == "" {
		result.Status = fmt.Sprintf("Status %d", resp.StatusCode)
	}

	result.ResponseHeaders = make(map[string][]string)
	for k, v := range resp.Header {
		result.ResponseHeaders[k] = v
	}

	var reader io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gzReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			result.ContentHashError = "Gzip reader error: " + err.Error()
		} else {
			defer gzReader.Close()
			reader = gzReader
		}
	case "deflate":
		zlibReader, err := zlib.NewReader(resp.Body)
		if err != nil {
			result.ContentHashError = "Deflate reader error: " + err.Error()
		} else {
			defer zlibReader.Close()
			reader = zlibReader
		}
	}

	limitedReader := io.LimitReader(reader, maxBodyReadBytes)
	rawBodyBytes, readErr := io.ReadAll(limitedReader)

	if readErr != nil && readErr != io.EOF {
		if result.ContentHashError == "" {
			result.ContentHashError = "Read body error: " + readErr.Error()
		} else {
			result.ContentHashError += "; Read body error: " + readErr.Error()
		}
	} else {
		var bodyBytes []byte
		contentType := resp.Header.Get("Content-Type")
		utf8Reader, errConv := charset.NewReader(bytes.NewReader(rawBodyBytes), contentType)
		if errConv != nil {
			bodyBytes = rawBodyBytes
		} else {
			utf8Bytes, errReadUTF8 := io.ReadAll(utf8Reader)
			if errReadUTF8 != nil {
				bodyBytes = rawBodyBytes
			} else {
				bodyBytes = utf8Bytes
			}
		}
		hash := sha256.Sum256(bodyBytes)
		result.ContentHash = fmt.Sprintf("%x", hash)
		result.ContentLength = len(bodyBytes)
		result.Body = bodyBytes
	}
	if clStr := resp.Header.Get("Content-Length"); clStr != "" {
		if cl, err := strconv.ParseInt(clStr, 10, 64); err == nil {
			result.ActualContentLength = cl
		}
	}

	result.AntiBotIndicators = make(map[string]string)
	if serverHeader, ok := resp.Header["Server"]; ok {
		for _, s := range serverHeader {
			lowerS := strings.ToLower(s)
			if strings.Contains(lowerS, "cloudflare") {
				result.AntiBotIndicators["Cloudflare_Server"] = s
			}
			if strings.Contains(lowerS, "akamaighost") {
				result.AntiBotIndicators["Akamai_Server"] = s
			}
		}
	}
	return result
}
