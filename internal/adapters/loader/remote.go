package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"

	"github.com/depot-assets/depot/internal/assets"
	"github.com/depot-assets/depot/internal/logging"
	"github.com/depot-assets/depot/internal/reporting"
)

const remoteUserAgent = "depot/1.0"

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type remoteLoader struct {
	httpClient HttpClient
	baseURL    string

	// Upstream request budget shared by every key on this origin.
	limiter *rate.Limiter

	// Content types observed per path recently; lets us reject a
	// mismatching re-request without hitting the origin again.
	knownContentTypes *ttlcache.Cache[string, string]
}

// NewRemoteLoader fetches assets from baseURL. Upstream requests are
// limited to refillPerSecond with the given burst across all keys.
func NewRemoteLoader(httpClient HttpClient, baseURL string, refillPerSecond int, burstSize int) (*remoteLoader, func()) {
	knownContentTypes := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](10 * time.Minute),
	)
	go knownContentTypes.Start()

	return &remoteLoader{
		httpClient:        httpClient,
		baseURL:           strings.TrimRight(baseURL, "/"),
		limiter:           rate.NewLimiter(rate.Limit(refillPerSecond), burstSize),
		knownContentTypes: knownContentTypes,
	}, knownContentTypes.Stop
}

func contentTypeMatches(tag assets.TypeTag, contentType string) bool {
	mediaType := contentType
	if i := strings.IndexByte(contentType, ';'); i != -1 {
		mediaType = contentType[:i]
	}
	mediaType = strings.TrimSpace(strings.ToLower(mediaType))

	switch tag {
	case assets.TypeText:
		return strings.HasPrefix(mediaType, "text/")
	case assets.TypeJSON:
		return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
	case assets.TypeImage:
		return strings.HasPrefix(mediaType, "image/")
	case assets.TypeBinary:
		return true
	default:
		return false
	}
}

func (l *remoteLoader) Load(ctx context.Context, key assets.Key) (assets.Handle, error) {
	logger := logging.FromContext(ctx)

	if item := l.knownContentTypes.Get(key.Path); item != nil {
		if !contentTypeMatches(key.Type, item.Value()) {
			return nil, fmt.Errorf("%w: %s is %s, requested as %s", assets.ErrTypeMismatch, key.Path, item.Value(), key.Type)
		}
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", assets.ErrCancelled, err)
	}

	url := fmt.Sprintf("%s/%s", l.baseURL, key.Path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		err := fmt.Errorf("failed to create request: %w", err)
		logger.Error(err.Error())
		reporting.Report(ctx, err)
		return nil, err
	}
	req.Header.Set("User-Agent", remoteUserAgent)

	start := time.Now()
	resp, err := l.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", assets.ErrCancelled, err)
		}
		err := fmt.Errorf("failed to fetch %s: %w", key, err)
		logger.Error(err.Error())
		reporting.Report(ctx, err)
		return nil, err
	}
	defer resp.Body.Close()

	logger.InfoContext(ctx, "Remote fetch completed", "url", url, "status", resp.StatusCode, "duration", time.Since(start).String())

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", assets.ErrNotFound, key)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, key)
	}

	contentType := resp.Header.Get("Content-Type")
	l.knownContentTypes.Set(key.Path, contentType, ttlcache.DefaultTTL)
	if !contentTypeMatches(key.Type, contentType) {
		return nil, fmt.Errorf("%w: %s is %s, requested as %s", assets.ErrTypeMismatch, key.Path, contentType, key.Type)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body for %s: %w", key, err)
	}

	if err := validatePayload(key, data); err != nil {
		return nil, err
	}

	return assets.NewByteHandle(key, data), nil
}
