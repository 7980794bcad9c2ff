package segment

import (
	"bytes"
	"compress/flate"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/remeh/sizedwaitgroup"

	"danmakuoverlay/core/backend/danmaku"
	"danmakuoverlay/core/backend/protocol"
)

const (
	SourceSegments = "segments"
	SourceXML      = "xml"
	SourceNone     = "none"

	maxPageBytes       = 16 << 20
	defaultParallelism = 3
	userAgent          = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

var ErrNoDanmaku = errors.New("no danmaku available")

type Options struct {
	WebViewURL   string
	SegmentURL   string
	XMLBaseURL   string
	Parallelism  int
	CacheEntries int
	CacheBytes   int64
	HTTPClient   *http.Client
}

// Request identifies a video. DurationMs may be zero when unknown.
type Request struct {
	Oid        int64 `json:"oid"`
	Pid        int64 `json:"pid"`
	DurationMs int64 `json:"durationMs"`
}

// Bundle is everything loaded for one video.
type Bundle struct {
	View     protocol.WebViewReply `json:"view"`
	Items    []danmaku.Item        `json:"items"`
	Commands []danmaku.Item        `json:"commands"`
	Source   string                `json:"source"`
	Pages    int                   `json:"pages"`
}

// Fetcher downloads comment metadata and segment pages.
type Fetcher struct {
	mu    sync.RWMutex
	opts  Options
	cache *Cache
}

func New(opts Options) *Fetcher {
	opts = normalizeOptions(opts)
	return &Fetcher{
		opts:  opts,
		cache: NewCache(opts.CacheEntries, opts.CacheBytes),
	}
}

func normalizeOptions(opts Options) Options {
	if opts.Parallelism <= 0 {
		opts.Parallelism = defaultParallelism
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	return opts
}

// UpdateOptions swaps endpoints and limits; cached pages survive unless the
// new bounds evict them.
func (f *Fetcher) UpdateOptions(opts Options) {
	f.mu.Lock()
	if opts.HTTPClient == nil {
		opts.HTTPClient = f.opts.HTTPClient
	}
	f.opts = normalizeOptions(opts)
	f.mu.Unlock()
	f.cache.Resize(opts.CacheEntries, opts.CacheBytes)
}

func (f *Fetcher) options() Options {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.opts
}

func (f *Fetcher) Cache() *Cache {
	return f.cache
}

// Load fetches metadata, then segment pages, falling back to the legacy XML
// document when no page could be fetched. Metadata failures are not fatal.
func (f *Fetcher) Load(ctx context.Context, req Request) (*Bundle, error) {
	if req.Oid <= 0 {
		return nil, errors.New("oid is required")
	}
	bundle := &Bundle{Source: SourceNone, Items: []danmaku.Item{}, Commands: []danmaku.Item{}}

	view, err := f.WebView(ctx, req.Oid, req.Pid)
	if err != nil {
		log.Printf("[segment][warn] web view oid=%d failed: %v", req.Oid, err)
	}
	bundle.View = view
	bundle.Commands = danmaku.BuildCommands(view.CommandDms)

	var metaTotal int64
	if view.DmSge != nil {
		metaTotal = view.DmSge.Total
	}
	pages, err := f.Segments(ctx, req.Oid, req.DurationMs, metaTotal)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(pages) > 0 {
		bundle.Source = SourceSegments
		bundle.Pages = len(pages)
		for i, page := range pages {
			items, decodeErr := protocol.DecodeSegmentItems(page)
			if decodeErr != nil {
				log.Printf("[segment][warn] page %d of oid=%d decoded partially: %v", i+1, req.Oid, decodeErr)
			}
			bundle.Items = append(bundle.Items, items...)
		}
	} else {
		raw, xmlErr := f.XML(ctx, req.Oid)
		if xmlErr != nil {
			if len(bundle.Commands) == 0 {
				return nil, fmt.Errorf("%w: %v", ErrNoDanmaku, xmlErr)
			}
			log.Printf("[segment][warn] xml fallback oid=%d failed: %v", req.Oid, xmlErr)
		} else {
			items, parseErr := protocol.ParseXMLItems(bytes.NewReader(raw))
			if parseErr != nil {
				log.Printf("[segment][warn] xml oid=%d parsed partially: %v", req.Oid, parseErr)
			}
			bundle.Source = SourceXML
			bundle.Items = append(bundle.Items, items...)
		}
	}
	sort.SliceStable(bundle.Items, func(i, j int) bool {
		return bundle.Items[i].TimestampMs < bundle.Items[j].TimestampMs
	})
	log.Printf("[segment] oid=%d loaded %d items and %d commands from %s",
		req.Oid, len(bundle.Items), len(bundle.Commands), bundle.Source)
	return bundle, nil
}

// WebView fetches and decodes the metadata reply. A decode error still
// returns whatever was parsed.
func (f *Fetcher) WebView(ctx context.Context, oid int64, pid int64) (protocol.WebViewReply, error) {
	opts := f.options()
	query := url.Values{}
	query.Set("type", "1")
	query.Set("oid", strconv.FormatInt(oid, 10))
	if pid > 0 {
		query.Set("pid", strconv.FormatInt(pid, 10))
	}
	body, err := f.get(ctx, opts, opts.WebViewURL, query)
	if err != nil {
		empty, _ := protocol.DecodeWebView(nil)
		return empty, err
	}
	return protocol.DecodeWebView(body)
}

// Segments fetches pages 1..n in parallel and returns the non-empty ones in
// page order. Individual page failures are logged and skipped.
func (f *Fetcher) Segments(ctx context.Context, oid int64, durationMs int64, metaTotal int64) ([][]byte, error) {
	if pages, ok := f.cache.Get(oid); ok {
		log.Printf("[segment] cache hit oid=%d pages=%d", oid, len(pages))
		return pages, nil
	}
	opts := f.options()
	count := protocol.SegmentCount(durationMs, metaTotal)
	results := make([][]byte, count)

	swg := sizedwaitgroup.New(opts.Parallelism)
	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			break
		}
		swg.Add()
		go func(index int) {
			defer swg.Done()
			query := url.Values{}
			query.Set("type", "1")
			query.Set("oid", strconv.FormatInt(oid, 10))
			query.Set("segment_index", strconv.Itoa(index+1))
			body, err := f.get(ctx, opts, opts.SegmentURL, query)
			if err != nil {
				log.Printf("[segment][warn] oid=%d page %d failed: %v", oid, index+1, err)
				return
			}
			results[index] = body
		}(i)
	}
	swg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pages := make([][]byte, 0, count)
	var total int64
	for _, page := range results {
		if len(page) == 0 {
			continue
		}
		pages = append(pages, page)
		total += int64(len(page))
	}
	log.Printf("[segment] oid=%d fetched %d/%d pages (%s)", oid, len(pages), count, humanize.IBytes(uint64(total)))
	if len(pages) == 0 {
		return nil, nil
	}
	f.cache.Put(oid, pages)
	return pages, nil
}

// XML fetches the legacy full comment document.
func (f *Fetcher) XML(ctx context.Context, oid int64) ([]byte, error) {
	opts := f.options()
	base := strings.TrimSuffix(opts.XMLBaseURL, "/")
	if base == "" {
		return nil, errors.New("xml base url is not configured")
	}
	return f.get(ctx, opts, fmt.Sprintf("%s/%d.xml", base, oid), nil)
}

func (f *Fetcher) get(ctx context.Context, opts Options, target string, query url.Values) ([]byte, error) {
	if strings.TrimSpace(target) == "" {
		return nil, errors.New("endpoint is not configured")
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Referer", "https://www.bilibili.com/")
	resp, err := opts.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var reader io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "deflate") {
		inflater := flate.NewReader(resp.Body)
		defer inflater.Close()
		reader = inflater
	}
	body, err := io.ReadAll(io.LimitReader(reader, maxPageBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return body, nil
}
