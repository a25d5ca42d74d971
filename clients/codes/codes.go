// package codes looks access codes up in the remote
// table mapping each code to its destination
package codes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tinklegames/tinkle-proxy-service/logging"
)

var (
	ErrInvalidCode = errors.New("invalid code")
)

// Entry is the destination an access code maps to
type Entry struct {
	URL        string `json:"url"`
	Embeddable bool   `json:"embeddable"`
}

// Table resolves access codes
type Table interface {
	Lookup(ctx context.Context, code string) (Entry, error)
}

// ParseEntry parses a table value of the form `<absolute-url>|<true|false>`,
// only a literal "true" second field marks the destination as embeddable
func ParseEntry(value string) Entry {
	destination, flag, _ := strings.Cut(value, "|")
	flag, _, _ = strings.Cut(flag, "|")

	return Entry{
		URL:        destination,
		Embeddable: flag == "true",
	}
}

// RemoteTableConfig wraps values used to create a new RemoteTable
type RemoteTableConfig struct {
	TableURL   string
	Timeout    time.Duration
	RetryCount int
}

// RemoteTable fetches the JSON codes table on every lookup
type RemoteTable struct {
	client   *resty.Client
	tableURL string

	*logging.ServiceLogger
}

var _ Table = (*RemoteTable)(nil)

func NewRemoteTable(config RemoteTableConfig, logger *logging.ServiceLogger) *RemoteTable {
	client := resty.New().
		SetTimeout(config.Timeout).
		SetRetryCount(config.RetryCount).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")

	return &RemoteTable{
		client:        client,
		tableURL:      config.TableURL,
		ServiceLogger: logger,
	}
}

// Lookup returns the entry for code, ErrInvalidCode when the table doesn't hold it
func (t *RemoteTable) Lookup(ctx context.Context, code string) (Entry, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Entry{}, ErrInvalidCode
	}

	table := map[string]any{}
	response, err := t.client.R().
		SetContext(ctx).
		// raw file hosts serve the table as text/plain
		ForceContentType("application/json").
		SetResult(&table).
		Get(t.tableURL)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to fetch codes table: %w", err)
	}
	if response.IsError() {
		return Entry{}, fmt.Errorf("failed to fetch codes table: status %d", response.StatusCode())
	}

	// empty and non string values are as good as absent
	value, ok := table[code].(string)
	if !ok || value == "" {
		t.Logger.Debug().
			Str("code", code).
			Msg("code not found in codes table")
		return Entry{}, ErrInvalidCode
	}

	return ParseEntry(value), nil
}
