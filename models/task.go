package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TaskType discriminates the CrawlTask variants.
type TaskType string

const (
	TaskSingleProduct  TaskType = "single_product"
	TaskProductList    TaskType = "product_list"
	TaskSearchProducts TaskType = "search_products"
	TaskBatchCrawl     TaskType = "batch_crawl"
)

// taskAliases maps the short names used by host callers onto task types.
var taskAliases = map[string]TaskType{
	"product": TaskSingleProduct,
	"list":    TaskProductList,
	"search":  TaskSearchProducts,
	"batch":   TaskBatchCrawl,
}

// UnmarshalJSON accepts both canonical names and host aliases.
func (t *TaskType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = ParseTaskType(s)
	return nil
}

// ParseTaskType resolves a canonical task name or a host alias. Unknown
// names are returned as-is and rejected later by Validate.
func ParseTaskType(s string) TaskType {
	s = strings.TrimSpace(s)
	if alias, ok := taskAliases[s]; ok {
		return alias
	}
	return TaskType(s)
}

// Viewport is a browser window size.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// TaskOptions tunes a single crawl. Zero values mean "use the default".
type TaskOptions struct {
	// Timeout is the task-level deadline in milliseconds.
	Timeout int `json:"timeout,omitempty"` // default: 30000

	// Retries is the number of extra navigation attempts.
	Retries int `json:"retries,omitempty"` // default: 0

	// MinDelay/MaxDelay bound the random wait between list pages, in ms.
	MinDelay int `json:"minDelay,omitempty"` // default: 1000
	MaxDelay int `json:"maxDelay,omitempty"` // default: 3000

	// Concurrency is the batch chunk size.
	Concurrency int `json:"concurrency,omitempty"` // default: 2

	MaxPages   int `json:"maxPages,omitempty"`   // default: 1
	MaxResults int `json:"maxResults,omitempty"` // default: 50

	// Proxy requests an egress proxy from the pool.
	Proxy bool `json:"proxy,omitempty"`

	// UserAgent and Viewport pin the fingerprint instead of randomizing it.
	UserAgent string    `json:"userAgent,omitempty"`
	Viewport  *Viewport `json:"viewport,omitempty"`

	// Markdown renders product descriptions as Markdown instead of text.
	Markdown bool `json:"markdown,omitempty"`
}

// Defaults fills zero-valued options.
func (o *TaskOptions) Defaults() {
	if o.Timeout <= 0 {
		o.Timeout = 30000
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.MinDelay <= 0 {
		o.MinDelay = 1000
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 3000
	}
	if o.MaxDelay < o.MinDelay {
		o.MaxDelay = o.MinDelay
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 2
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 1
	}
	if o.MaxResults <= 0 {
		o.MaxResults = 50
	}
}

// TimeoutDuration returns the task timeout as a time.Duration.
func (o TaskOptions) TimeoutDuration() time.Duration {
	return time.Duration(o.Timeout) * time.Millisecond
}

// CrawlTask is the unit of work sent to the sidecar.
//
// Exactly one of URL, URLs and Keyword is populated, matching Type.
type CrawlTask struct {
	ID       string      `json:"id,omitempty"`
	Type     TaskType    `json:"type"`
	Platform string      `json:"platform"`
	URL      string      `json:"url,omitempty"`
	URLs     []string    `json:"urls,omitempty"`
	Keyword  string      `json:"keyword,omitempty"`
	Options  TaskOptions `json:"options"`
}

// Validate checks the variant invariant. It does not resolve the platform.
func (t *CrawlTask) Validate() error {
	hasURL := strings.TrimSpace(t.URL) != ""
	hasURLs := len(t.URLs) > 0
	hasKeyword := strings.TrimSpace(t.Keyword) != ""

	populated := 0
	for _, b := range []bool{hasURL, hasURLs, hasKeyword} {
		if b {
			populated++
		}
	}
	if populated != 1 {
		return NewCrawlError(ErrCodeInvalidTask,
			"exactly one of url, urls, keyword must be set", nil)
	}

	var ok bool
	switch t.Type {
	case TaskSingleProduct, TaskProductList:
		ok = hasURL
	case TaskSearchProducts:
		ok = hasKeyword
	case TaskBatchCrawl:
		ok = hasURLs
	default:
		return NewCrawlError(ErrCodeInvalidTask,
			fmt.Sprintf("unknown task type: %q", t.Type), nil)
	}
	if !ok {
		return NewCrawlError(ErrCodeInvalidTask,
			fmt.Sprintf("task type %s does not match the populated field", t.Type), nil)
	}
	if hasURLs {
		for i, u := range t.URLs {
			if strings.TrimSpace(u) == "" {
				return NewCrawlError(ErrCodeInvalidTask,
					fmt.Sprintf("urls[%d] is empty", i), nil)
			}
		}
	}
	return nil
}
